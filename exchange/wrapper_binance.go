package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/exchange/binance"
	"perpguard/utils"
)

// binanceWrapper 将币安适配器转换为 IExchange
type binanceWrapper struct {
	adapter *binance.BinanceAdapter
}

func (w *binanceWrapper) GetName() string {
	return w.adapter.GetName()
}

func (w *binanceWrapper) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return w.adapter.GetLatestPrice(ctx, symbol)
}

// GetTicker 组合盘口、最新价和标记价格，单项失败不影响其他字段
func (w *binanceWrapper) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	t := &Ticker{Symbol: symbol}
	var firstErr error

	if bt, err := w.adapter.GetBookTicker(ctx, symbol); err == nil {
		t.BestBid, t.BestAsk = bt.BidPrice, bt.AskPrice
	} else {
		firstErr = err
	}
	if last, err := w.adapter.GetLatestPrice(ctx, symbol); err == nil {
		t.Last = last
	} else if firstErr == nil {
		firstErr = err
	}
	if mark, err := w.adapter.GetMarkPrice(ctx, symbol); err == nil {
		t.Mark = mark
	} else if firstErr == nil {
		firstErr = err
	}

	if !t.BestBid.IsPositive() && !t.BestAsk.IsPositive() && !t.Last.IsPositive() && !t.Mark.IsPositive() {
		return nil, firstErr
	}
	return t, nil
}

func (w *binanceWrapper) GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error) {
	depth, err := w.adapter.GetDepth(ctx, symbol, levels)
	if err != nil {
		return nil, err
	}
	book := &OrderBook{Symbol: symbol}
	if depth.Time > 0 {
		book.Time = msToTime(depth.Time)
	}
	for _, l := range depth.Bids {
		book.Bids = append(book.Bids, Level{Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range depth.Asks {
		book.Asks = append(book.Asks, Level{Price: l.Price, Quantity: l.Quantity})
	}
	return book, nil
}

func (w *binanceWrapper) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	klines, err := w.adapter.GetHistoricalKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		})
	}
	return candles, nil
}

func (w *binanceWrapper) GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error) {
	info, err := w.adapter.GetSymbolInfo(ctx)
	if err != nil {
		return nil, err
	}
	return &MarketLimits{
		Symbol:            symbol,
		MinQty:            info.MinQty,
		StepSize:          info.StepSize,
		QuantityPrecision: int32(info.QuantityPrecision),
		MinNotional:       info.MinNotional,
	}, nil
}

func (w *binanceWrapper) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	order, err := w.adapter.PlaceMarketOrder(ctx, &binance.OrderRequest{
		Symbol:        req.Symbol,
		Side:          binance.Side(req.Side),
		Quantity:      req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Status:        order.Status,
		ExecutedQty:   order.ExecutedQty,
		AvgPrice:      order.AvgPrice,
	}, nil
}

// GetPosition 单向持仓模式下每个交易对只有一条净持仓
func (w *binanceWrapper) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := w.adapter.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Size.IsZero() {
			continue
		}
		side := SideLong
		if p.Size.IsNegative() {
			side = SideShort
		}
		return &Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   p.Size.Abs(),
			EntryPrice: p.EntryPrice,
		}, nil
	}
	return nil, nil
}

func (w *binanceWrapper) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	account, err := w.adapter.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	return &AccountSummary{
		Equity:           account.TotalMarginBalance,
		WalletBalance:    account.TotalWalletBalance,
		AvailableBalance: account.AvailableBalance,
		UnrealizedPnL:    account.UnrealizedProfit,
	}, nil
}

func msToTime(ms int64) time.Time {
	return utils.FromMillis(ms)
}
