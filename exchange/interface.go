package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange 交易所接口
// 所有调用都可能返回 TransportError 或 DataUnavailableError
type IExchange interface {
	GetName() string

	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error)

	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	// GetPosition 无持仓时返回 nil, nil
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)
}
