package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrReduceOnlyRejected 模拟币安 -2022 只减仓拒单
var ErrReduceOnlyRejected = errors.New("code=-2022, msg=ReduceOnly Order is rejected")

// PaperExchange 内存模拟交易所
// 行情可以手动设置，也可以从 feed（真实交易所的公共行情）读取；成交按订单簿深度模拟
type PaperExchange struct {
	mu   sync.Mutex
	feed IExchange

	ticker  map[string]*Ticker
	books   map[string]*OrderBook
	candles map[string][]Candle
	limits  map[string]*MarketLimits

	positions map[string]*Position
	wallet    decimal.Decimal
	fillRatio decimal.Decimal
	errs      map[string]error
	orders    []OrderRequest
	seq       int64
}

// NewPaperExchange 创建模拟交易所，feed 可以为 nil
func NewPaperExchange(feed IExchange, startingBalance decimal.Decimal) *PaperExchange {
	return &PaperExchange{
		feed:      feed,
		ticker:    make(map[string]*Ticker),
		books:     make(map[string]*OrderBook),
		candles:   make(map[string][]Candle),
		limits:    make(map[string]*MarketLimits),
		positions: make(map[string]*Position),
		wallet:    startingBalance,
		fillRatio: decimal.NewFromInt(1),
		errs:      make(map[string]error),
	}
}

func (p *PaperExchange) GetName() string { return "Paper" }

// SetTicker 设置行情
func (p *PaperExchange) SetTicker(t *Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticker[t.Symbol] = t
}

// SetOrderBook 设置订单簿，传 nil 表示订单簿缺失
func (p *PaperExchange) SetOrderBook(symbol string, book *OrderBook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if book == nil {
		delete(p.books, symbol)
		return
	}
	book.Symbol = symbol
	p.books[symbol] = book
}

// SetCandles 设置K线
func (p *PaperExchange) SetCandles(symbol string, candles []Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol] = candles
}

// SetMarketLimits 设置合约限制
func (p *PaperExchange) SetMarketLimits(l *MarketLimits) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limits[l.Symbol] = l
}

// SetPosition 设置持仓，nil 表示空仓
func (p *PaperExchange) SetPosition(symbol string, pos *Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos == nil {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = pos.Clone()
}

// SetWallet 设置钱包余额
func (p *PaperExchange) SetWallet(balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallet = balance
}

// SetFillRatio 设置成交比例（0 表示订单被接受但不成交）
func (p *PaperExchange) SetFillRatio(ratio decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillRatio = ratio
}

// SetError 让指定操作返回错误，传 nil 清除
func (p *PaperExchange) SetError(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Orders 返回收到的订单
func (p *PaperExchange) Orders() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRequest, len(p.orders))
	copy(out, p.orders)
	return out
}

func (p *PaperExchange) injected(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[op]
}

func (p *PaperExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := p.injected("get_price"); err != nil {
		return decimal.Zero, err
	}
	t, err := p.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if t.Last.IsPositive() {
		return t.Last, nil
	}
	return t.Mark, nil
}

func (p *PaperExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := p.injected("get_ticker"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	t, ok := p.ticker[symbol]
	p.mu.Unlock()
	if ok {
		cp := *t
		return &cp, nil
	}
	if p.feed != nil {
		return p.feed.GetTicker(ctx, symbol)
	}
	return nil, NewDataUnavailable("get_ticker", symbol, "模拟行情未设置")
}

func (p *PaperExchange) GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error) {
	if err := p.injected("get_orderbook"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	book, ok := p.books[symbol]
	p.mu.Unlock()
	if ok {
		return trimBook(book, levels), nil
	}
	if p.feed != nil {
		return p.feed.GetOrderBook(ctx, symbol, levels)
	}
	return nil, NewDataUnavailable("get_orderbook", symbol, "模拟订单簿未设置")
}

func trimBook(book *OrderBook, levels int) *OrderBook {
	out := &OrderBook{Symbol: book.Symbol, Time: book.Time}
	out.Bids = append([]Level(nil), book.Bids...)
	out.Asks = append([]Level(nil), book.Asks...)
	if levels > 0 {
		if len(out.Bids) > levels {
			out.Bids = out.Bids[:levels]
		}
		if len(out.Asks) > levels {
			out.Asks = out.Asks[:levels]
		}
	}
	return out
}

func (p *PaperExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if err := p.injected("get_candles"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	candles, ok := p.candles[symbol]
	p.mu.Unlock()
	if !ok {
		if p.feed != nil {
			return p.feed.GetCandles(ctx, symbol, interval, limit)
		}
		return nil, NewDataUnavailable("get_candles", symbol, "模拟K线未设置")
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]Candle(nil), candles...), nil
}

func (p *PaperExchange) GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error) {
	if err := p.injected("get_market_limits"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	l, ok := p.limits[symbol]
	p.mu.Unlock()
	if ok {
		cp := *l
		return &cp, nil
	}
	if p.feed != nil {
		return p.feed.GetMarketLimits(ctx, symbol)
	}
	return nil, NewDataUnavailable("get_market_limits", symbol, "模拟合约信息未设置")
}

func (p *PaperExchange) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	if err := p.injected("get_position"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[symbol].Clone(), nil
}

func (p *PaperExchange) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	if err := p.injected("get_account_summary"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	wallet := p.wallet
	positions := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos.Clone())
	}
	p.mu.Unlock()

	unrealized := decimal.Zero
	for _, pos := range positions {
		t, err := p.GetTicker(ctx, pos.Symbol)
		if err != nil {
			continue
		}
		mark := t.Mark
		if !mark.IsPositive() {
			mark = t.Last
		}
		if !mark.IsPositive() {
			continue
		}
		unrealized = unrealized.Add(pnl(pos, mark, pos.Quantity))
	}

	equity := wallet.Add(unrealized)
	return &AccountSummary{
		Equity:           equity,
		WalletBalance:    wallet,
		AvailableBalance: equity,
		UnrealizedPnL:    unrealized,
	}, nil
}

func pnl(pos *Position, price, qty decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.EntryPrice).Mul(qty)
	if pos.Side == SideShort {
		return diff.Neg()
	}
	return diff
}

// PlaceOrder 模拟市价单：按订单簿逐档吃单，只减仓订单不会超过持仓
func (p *PaperExchange) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	if err := p.injected("place_order"); err != nil {
		return nil, err
	}
	if req == nil || !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("code=-4003, msg=Quantity less than or equal to zero")
	}

	book, err := p.GetOrderBook(ctx, req.Symbol, 0)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orders = append(p.orders, *req)
	p.seq++
	result := &OrderResult{
		OrderID:       fmt.Sprintf("paper-%d", p.seq),
		ClientOrderID: req.ClientOrderID,
		Status:        "NEW",
	}

	qty := req.Quantity
	pos := p.positions[req.Symbol]
	if req.ReduceOnly {
		if pos == nil || pos.Side.CloseSide() != req.Side {
			return nil, ErrReduceOnlyRejected
		}
		qty = decimal.Min(qty, pos.Quantity)
	}
	qty = qty.Mul(p.fillRatio)

	levels := book.Asks
	if req.Side == OrderSideSell {
		levels = book.Bids
	}
	filled, notional := decimal.Zero, decimal.Zero
	for _, lv := range levels {
		if !filled.LessThan(qty) {
			break
		}
		take := decimal.Min(lv.Quantity, qty.Sub(filled))
		filled = filled.Add(take)
		notional = notional.Add(take.Mul(lv.Price))
	}
	if !filled.IsPositive() {
		return result, nil
	}

	avg := notional.Div(filled)
	result.ExecutedQty = filled
	result.AvgPrice = avg
	result.Status = "FILLED"
	if filled.LessThan(req.Quantity) {
		result.Status = "PARTIALLY_FILLED"
	}

	p.applyFill(req, filled, avg)
	return result, nil
}

// applyFill 更新持仓和已实现盈亏，调用前必须持有 mu
func (p *PaperExchange) applyFill(req *OrderRequest, qty, price decimal.Decimal) {
	pos := p.positions[req.Symbol]
	if pos == nil {
		p.positions[req.Symbol] = &Position{
			Symbol:     req.Symbol,
			Side:       req.Side.PositionSide(),
			Quantity:   qty,
			EntryPrice: price,
		}
		return
	}

	if pos.Side.CloseSide() != req.Side {
		// 同向加仓，按数量加权平均开仓价
		total := pos.Quantity.Add(qty)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
		pos.Quantity = total
		return
	}

	closed := decimal.Min(qty, pos.Quantity)
	p.wallet = p.wallet.Add(pnl(pos, price, closed))
	remaining := pos.Quantity.Sub(closed)
	if remaining.IsPositive() {
		pos.Quantity = remaining
		return
	}
	delete(p.positions, req.Symbol)

	// 反手
	if flip := qty.Sub(closed); flip.IsPositive() {
		p.positions[req.Symbol] = &Position{
			Symbol:     req.Symbol,
			Side:       req.Side.PositionSide(),
			Quantity:   flip,
			EntryPrice: price,
		}
	}
}
