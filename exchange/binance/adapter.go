package binance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perpguard/logger"
)

// 为了避免循环导入，在这里定义需要的类型
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	UpdateTime    int64
}

// Position 持仓（Size 带符号，正数为多，负数为空）
type Position struct {
	Symbol     string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Leverage   int
}

type Account struct {
	TotalWalletBalance decimal.Decimal
	TotalMarginBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	UnrealizedProfit   decimal.Decimal
}

type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type Depth struct {
	Bids []Level
	Asks []Level
	Time int64
}

type BookTicker struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
}

type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

type SymbolInfo struct {
	MinQty            decimal.Decimal
	StepSize          decimal.Decimal
	QuantityPrecision int
	MinNotional       decimal.Decimal
	BaseAsset         string
	QuoteAsset        string
}

// BinanceAdapter 币安 U 本位合约适配器
type BinanceAdapter struct {
	client     *futures.Client
	symbol     string
	useTestnet bool

	infoMu sync.RWMutex
	info   *SymbolInfo
}

// NewBinanceAdapter 创建币安适配器
// public_only=true 时允许不配置密钥，只能访问公共行情（模拟盘使用）
func NewBinanceAdapter(cfg map[string]string, symbol string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]
	publicOnly := cfg["public_only"] == "true"

	useTestnet := cfg["testnet"] == "true"
	if useTestnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}
	// 设置测试网模式（必须在创建客户端之前设置）
	futures.UseTestnet = useTestnet

	if !publicOnly && (apiKey == "" || secretKey == "") {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	client := futures.NewClient(apiKey, secretKey)

	adapter := &BinanceAdapter{
		client:     client,
		symbol:     symbol,
		useTestnet: useTestnet,
	}

	ctxInit, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !publicOnly {
		// 同步服务器时间
		if _, err := client.NewSetServerTimeService().Do(ctxInit); err != nil {
			logger.Warn("⚠️ [Binance] 同步服务器时间失败: %v", err)
		}
	}

	if err := adapter.fetchExchangeInfo(ctxInit); err != nil {
		// 合约信息缺失时风控会拒绝开仓，这里只告警
		logger.Warn("⚠️ [Binance] 获取合约信息失败: %v，稍后重试", err)
	}

	return adapter, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// fetchExchangeInfo 获取合约信息（最小数量、步长、精度）
func (b *BinanceAdapter) fetchExchangeInfo(ctx context.Context) error {
	exchangeInfo, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("获取交易所信息失败: %w", err)
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol != b.symbol {
			continue
		}
		info := &SymbolInfo{
			QuantityPrecision: s.QuantityPrecision,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
		}
		if lot := s.LotSizeFilter(); lot != nil {
			info.MinQty, _ = decimal.NewFromString(lot.MinQuantity)
			info.StepSize, _ = decimal.NewFromString(lot.StepSize)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			info.MinNotional, _ = decimal.NewFromString(mn.Notional)
		}

		b.infoMu.Lock()
		b.info = info
		b.infoMu.Unlock()

		logger.Info("ℹ️ [Binance 合约信息] %s - 最小数量:%s, 步长:%s, 数量精度:%d, 最小名义价值:%s",
			b.symbol, info.MinQty, info.StepSize, info.QuantityPrecision, info.MinNotional)
		return nil
	}

	return fmt.Errorf("未找到合约信息: %s", b.symbol)
}

// GetSymbolInfo 获取合约信息，首次失败时重新拉取
func (b *BinanceAdapter) GetSymbolInfo(ctx context.Context) (*SymbolInfo, error) {
	b.infoMu.RLock()
	info := b.info
	b.infoMu.RUnlock()
	if info != nil {
		return info, nil
	}
	if err := b.fetchExchangeInfo(ctx); err != nil {
		return nil, err
	}
	b.infoMu.RLock()
	defer b.infoMu.RUnlock()
	return b.info, nil
}

// PlaceMarketOrder 下市价单，平仓单设置 ReduceOnly
func (b *BinanceAdapter) PlaceMarketOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("无效的下单数量: %s（数量必须大于0）", req.Quantity)
	}

	orderService := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	if req.ClientOrderID != "" {
		orderService = orderService.NewClientOrderID(req.ClientOrderID)
	}

	// 币安的 ReduceOnly 仅在单向持仓模式下有效
	if req.ReduceOnly {
		orderService = orderService.ReduceOnly(true)
	}

	resp, err := orderService.Do(ctx)
	if err != nil {
		return nil, err
	}

	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	avgPrice, _ := decimal.NewFromString(resp.AvgPrice)

	return &Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        string(resp.Status),
		ExecutedQty:   executed,
		AvgPrice:      avgPrice,
		UpdateTime:    resp.UpdateTime,
	}, nil
}

// GetAccount 获取账户信息（合约账户）
func (b *BinanceAdapter) GetAccount(ctx context.Context) (*Account, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Service unavailable from a restricted location") {
			return nil, fmt.Errorf("你的网络连接在限制服务区域，请检查网络或使用代理")
		}
		return nil, err
	}

	result := &Account{}
	for _, asset := range account.Assets {
		if asset.Asset != "USDT" && asset.Asset != "USDC" && asset.Asset != "BUSD" {
			continue
		}
		wallet, _ := decimal.NewFromString(asset.WalletBalance)
		available, _ := decimal.NewFromString(asset.AvailableBalance)
		margin, _ := decimal.NewFromString(asset.MarginBalance)
		unrealized, _ := decimal.NewFromString(asset.UnrealizedProfit)

		result.TotalWalletBalance = result.TotalWalletBalance.Add(wallet)
		result.AvailableBalance = result.AvailableBalance.Add(available)
		result.TotalMarginBalance = result.TotalMarginBalance.Add(margin)
		result.UnrealizedProfit = result.UnrealizedProfit.Add(unrealized)
	}
	return result, nil
}

// parseBanTime 从错误消息中解析封禁时间（毫秒时间戳）
// 错误格式: "IP(130.176.187.84) banned until 1767288777555"
var banRe = regexp.MustCompile(`banned until (\d+)`)

func parseBanTime(errMsg string) (time.Time, bool) {
	matches := banRe.FindStringSubmatch(errMsg)
	if len(matches) < 2 {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ts), true
}

func isRateLimitError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "-1003") || strings.Contains(errStr, "Way too many requests") ||
		strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "banned until")
}

// waitForRateLimit 计算限流后的等待时间
func waitForRateLimit(err error, retryCount int) time.Duration {
	if banTime, ok := parseBanTime(err.Error()); ok {
		if wait := time.Until(banTime); wait > 0 {
			logger.Warn("⚠️ [Binance] IP被封禁直到 %v，等待 %v 后重试", banTime, wait+time.Second)
			return wait + time.Second
		}
	}

	backoff := time.Duration(1<<uint(retryCount)) * time.Second
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	logger.Warn("⚠️ [Binance] 触发速率限制，等待 %v 后重试 (第%d次)", backoff, retryCount+1)
	return backoff
}

// GetPositions 获取持仓信息，限流时在 ctx 截止前退避重试
func (b *BinanceAdapter) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	const maxRetries = 3
	var lastErr error

	for retry := 0; retry < maxRetries; retry++ {
		positionRisks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err == nil {
			result := make([]*Position, 0, len(positionRisks))
			for _, pos := range positionRisks {
				size, _ := decimal.NewFromString(pos.PositionAmt)
				entry, _ := decimal.NewFromString(pos.EntryPrice)
				mark, _ := decimal.NewFromString(pos.MarkPrice)
				leverage, _ := strconv.Atoi(pos.Leverage)
				result = append(result, &Position{
					Symbol:     pos.Symbol,
					Size:       size,
					EntryPrice: entry,
					MarkPrice:  mark,
					Leverage:   leverage,
				})
			}
			return result, nil
		}

		lastErr = err
		if !isRateLimitError(err) {
			return nil, fmt.Errorf("查询持仓失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("上下文已取消: %w", ctx.Err())
		case <-time.After(waitForRateLimit(err, retry)):
		}
	}

	return nil, fmt.Errorf("查询持仓失败（重试%d次）: %w", maxRetries, lastErr)
}

// GetLatestPrice 获取最新成交价
func (b *BinanceAdapter) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("未找到 %s 的最新价格", symbol)
}

// GetBookTicker 获取买一卖一
func (b *BinanceAdapter) GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error) {
	tickers, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			bid, _ := decimal.NewFromString(t.BidPrice)
			ask, _ := decimal.NewFromString(t.AskPrice)
			return &BookTicker{BidPrice: bid, AskPrice: ask}, nil
		}
	}
	return nil, fmt.Errorf("未找到 %s 的盘口", symbol)
}

// GetMarkPrice 获取标记价格
func (b *BinanceAdapter) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	indexes, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, idx := range indexes {
		if idx.Symbol == symbol {
			return decimal.NewFromString(idx.MarkPrice)
		}
	}
	return decimal.Zero, fmt.Errorf("未找到 %s 的标记价格", symbol)
}

// depthLimits 币安深度接口允许的档位数
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// GetDepth 获取订单簿
func (b *BinanceAdapter) GetDepth(ctx context.Context, symbol string, levels int) (*Depth, error) {
	limit := depthLimits[len(depthLimits)-1]
	for _, l := range depthLimits {
		if l >= levels {
			limit = l
			break
		}
	}

	resp, err := b.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}

	depth := &Depth{Time: resp.Time}
	for i, bid := range resp.Bids {
		if levels > 0 && i >= levels {
			break
		}
		price, _ := decimal.NewFromString(bid.Price)
		qty, _ := decimal.NewFromString(bid.Quantity)
		depth.Bids = append(depth.Bids, Level{Price: price, Quantity: qty})
	}
	for i, ask := range resp.Asks {
		if levels > 0 && i >= levels {
			break
		}
		price, _ := decimal.NewFromString(ask.Price)
		qty, _ := decimal.NewFromString(ask.Quantity)
		depth.Asks = append(depth.Asks, Level{Price: price, Quantity: qty})
	}
	return depth, nil
}

// GetHistoricalKlines 获取历史K线数据（最后一根可能尚未收盘）
func (b *BinanceAdapter) GetHistoricalKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取历史K线失败: %w", err)
	}

	candles := make([]*Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, &Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}
