package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"perpguard/exchange"
	"perpguard/logger"
	"perpguard/metrics"
	"perpguard/storage"
	"perpguard/utils"
)

// StatusDryRun 模拟模式下的订单状态
const StatusDryRun = "DRY_RUN"

// Journal 审计记录接口，由 storage.StorageService 实现
type Journal interface {
	RecordOrder(o *storage.OrderRecord)
	RecordCloseAttempt(a *storage.CloseAttemptRecord)
	RecordCloseSequence(c *storage.CloseSequenceRecord)
}

type nopJournal struct{}

func (nopJournal) RecordOrder(*storage.OrderRecord) {}
func (nopJournal) RecordCloseAttempt(*storage.CloseAttemptRecord) {}
func (nopJournal) RecordCloseSequence(*storage.CloseSequenceRecord) {}

// Executor 市价单执行器
type Executor struct {
	exchange    exchange.IExchange
	symbol      string
	rateLimiter *rate.Limiter
	dryRun      bool
	journal     Journal
}

// NewExecutor 创建订单执行器，journal 可以为 nil
func NewExecutor(ex exchange.IExchange, symbol string, ordersPerSecond float64, dryRun bool, journal Journal) *Executor {
	if journal == nil {
		journal = nopJournal{}
	}
	burst := int(ordersPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Executor{
		exchange:    ex,
		symbol:      symbol,
		rateLimiter: rate.NewLimiter(rate.Limit(ordersPerSecond), burst),
		dryRun:      dryRun,
		journal:     journal,
	}
}

// DryRun 是否为模拟模式
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Symbol 交易对
func (e *Executor) Symbol() string {
	return e.symbol
}

// IsReduceOnlyRejection 检查是否为只减仓被拒（通常意味着已无持仓）
func IsReduceOnlyRejection(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// Binance: code=-2022, msg=ReduceOnly Order is rejected
	// 注意：不要直接匹配 "reduce only"，因为金额不足的报错 "-4164" 里也包含这个词
	return strings.Contains(errStr, "-2022") ||
		strings.Contains(errStr, "ReduceOnly Order is rejected") ||
		(strings.Contains(errStr, "reduce only") && !strings.Contains(errStr, "-4164"))
}

// PlaceMarket 下市价单，不重试（重试由调用方的循环控制）
func (e *Executor) PlaceMarket(ctx context.Context, side exchange.OrderSide, qty decimal.Decimal, reduceOnly bool, intent string) (*exchange.OrderResult, error) {
	pm := metrics.GetPrometheusMetrics()
	clientOID := utils.GenerateOrderID(intent, string(side))

	rec := &storage.OrderRecord{
		Symbol:        e.symbol,
		ClientOrderID: clientOID,
		Side:          string(side),
		Intent:        intent,
		Quantity:      qty,
		ReduceOnly:    reduceOnly,
		DryRun:        e.dryRun,
	}

	if e.dryRun {
		result := &exchange.OrderResult{
			OrderID:       "dry-" + clientOID,
			ClientOrderID: clientOID,
			Status:        StatusDryRun,
			ExecutedQty:   qty,
		}
		rec.OrderID = result.OrderID
		rec.Status = StatusDryRun
		rec.ExecutedQty = qty
		e.journal.RecordOrder(rec)
		pm.RecordOrder(e.symbol, string(side), intent, StatusDryRun)
		logger.Info("🧪 [模拟] %s %s 数量: %s reduceOnly=%v", intent, side, qty, reduceOnly)
		return result, nil
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	start := time.Now()
	res, err := e.exchange.PlaceOrder(ctx, &exchange.OrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Quantity:      qty,
		ReduceOnly:    reduceOnly,
		ClientOrderID: clientOID,
	})
	if err != nil {
		rec.Status = "ERROR"
		rec.Error = err.Error()
		e.journal.RecordOrder(rec)
		pm.RecordOrder(e.symbol, string(side), intent, "error")

		if strings.Contains(err.Error(), "-4061") {
			logger.Error("❌ 下单失败，请在交易所将双向持仓改为单向持仓。错误码: -4061")
		}
		return nil, fmt.Errorf("下单失败 %s %s %s: %w", intent, side, qty, err)
	}

	rec.OrderID = res.OrderID
	rec.Status = res.Status
	rec.ExecutedQty = res.ExecutedQty
	rec.AvgPrice = res.AvgPrice
	e.journal.RecordOrder(rec)
	pm.RecordOrder(e.symbol, string(side), intent, res.Status)

	logger.Info("✅ [%s] 下单成功: %s %s 数量: %s 成交: %s 均价: %s 订单ID: %s (%v)",
		e.exchange.GetName(), intent, side, qty, res.ExecutedQty, res.AvgPrice, res.OrderID, time.Since(start))
	return res, nil
}
