package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"perpguard/metrics"
)

// Guarded 为交易所调用加上超时、限速和错误分类
type Guarded struct {
	inner   IExchange
	timeout time.Duration
	limiter *rate.Limiter
}

// NewGuarded 包装交易所实例
func NewGuarded(inner IExchange, timeout time.Duration, requestsPerSecond float64) *Guarded {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Guarded{
		inner:   inner,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Unwrap 返回被包装的实例
func (g *Guarded) Unwrap() IExchange { return g.inner }

func (g *Guarded) GetName() string { return g.inner.GetName() }

// call 在限速和超时内执行一次调用
func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.GetPrometheusMetrics().RecordExchangeCall(op, "rate_limited", time.Since(start))
		return &TransportError{Op: op, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := classify(op, fn(callCtx))
	status := "ok"
	if err != nil {
		status = "error"
		var te *TransportError
		if errors.As(err, &te) && te.Timeout() {
			status = "timeout"
		}
	}
	metrics.GetPrometheusMetrics().RecordExchangeCall(op, status, time.Since(start))
	return err
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := g.call(ctx, "get_price", func(ctx context.Context) error {
		p, err := g.inner.GetPrice(ctx, symbol)
		if err != nil {
			return err
		}
		if !p.IsPositive() {
			return NewDataUnavailable("get_price", symbol, "价格无效")
		}
		price = p
		return nil
	})
	return price, err
}

func (g *Guarded) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var t *Ticker
	err := g.call(ctx, "get_ticker", func(ctx context.Context) error {
		res, err := g.inner.GetTicker(ctx, symbol)
		if err != nil {
			return err
		}
		if res == nil {
			return NewDataUnavailable("get_ticker", symbol, "行情为空")
		}
		t = res
		return nil
	})
	return t, err
}

func (g *Guarded) GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error) {
	var book *OrderBook
	err := g.call(ctx, "get_orderbook", func(ctx context.Context) error {
		res, err := g.inner.GetOrderBook(ctx, symbol, levels)
		if err != nil {
			return err
		}
		if res == nil || (len(res.Bids) == 0 && len(res.Asks) == 0) {
			return NewDataUnavailable("get_orderbook", symbol, "订单簿为空")
		}
		book = res
		return nil
	})
	return book, err
}

func (g *Guarded) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var candles []Candle
	err := g.call(ctx, "get_candles", func(ctx context.Context) error {
		res, err := g.inner.GetCandles(ctx, symbol, interval, limit)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return NewDataUnavailable("get_candles", symbol, "K线为空")
		}
		candles = res
		return nil
	})
	return candles, err
}

func (g *Guarded) GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error) {
	var limits *MarketLimits
	err := g.call(ctx, "get_market_limits", func(ctx context.Context) error {
		res, err := g.inner.GetMarketLimits(ctx, symbol)
		if err != nil {
			return err
		}
		if res == nil {
			return NewDataUnavailable("get_market_limits", symbol, "合约信息缺失")
		}
		limits = res
		return nil
	})
	return limits, err
}

func (g *Guarded) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	var result *OrderResult
	err := g.call(ctx, "place_order", func(ctx context.Context) error {
		res, err := g.inner.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (g *Guarded) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var pos *Position
	err := g.call(ctx, "get_position", func(ctx context.Context) error {
		res, err := g.inner.GetPosition(ctx, symbol)
		if err != nil {
			return err
		}
		pos = res
		return nil
	})
	return pos, err
}

func (g *Guarded) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	var summary *AccountSummary
	err := g.call(ctx, "get_account_summary", func(ctx context.Context) error {
		res, err := g.inner.GetAccountSummary(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			return NewDataUnavailable("get_account_summary", "", "账户信息为空")
		}
		summary = res
		return nil
	})
	return summary, err
}
