package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// CloseSide 平掉该方向持仓需要的订单方向
func (s Side) CloseSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Valid 是否为合法持仓方向
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionSide 开仓订单对应的持仓方向
func (o OrderSide) PositionSide() Side {
	if o == OrderSideSell {
		return SideShort
	}
	return SideLong
}

// Opposite 反向订单方向
func (o OrderSide) Opposite() OrderSide {
	if o == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position 单个交易对的净持仓，数量恒为正，方向由 Side 表示
type Position struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// Clone 复制持仓，nil 安全
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Equal 精确比较两个持仓（均为 nil 视为相等）
func (p *Position) Equal(o *Position) bool {
	if p == nil || o == nil {
		return p == nil && o == nil
	}
	return p.Symbol == o.Symbol &&
		p.Side == o.Side &&
		p.Quantity.Equal(o.Quantity) &&
		p.EntryPrice.Equal(o.EntryPrice)
}

// Level 订单簿档位
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook 订单簿快照，Bids 价格从高到低，Asks 价格从低到高
type OrderBook struct {
	Symbol string
	Bids   []Level
	Asks   []Level
	Time   time.Time
}

// Ticker 行情快照，缺失字段为零值
type Ticker struct {
	Symbol  string
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Last    decimal.Decimal
	Mark    decimal.Decimal
}

// Candle K线（时间为毫秒时间戳）
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketLimits 合约下单限制
type MarketLimits struct {
	Symbol            string
	MinQty            decimal.Decimal
	StepSize          decimal.Decimal
	QuantityPrecision int32
	MinNotional       decimal.Decimal // 交易所公布的最小名义价值，可能为零
}

// TruncateQty 按数量精度向下取整
func (m *MarketLimits) TruncateQty(qty decimal.Decimal) decimal.Decimal {
	if m == nil {
		return qty
	}
	if m.StepSize.IsPositive() {
		return qty.Div(m.StepSize).Floor().Mul(m.StepSize)
	}
	return qty.Truncate(m.QuantityPrecision)
}

// OrderRequest 市价单请求
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult 下单结果
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
}

// AccountSummary 合约账户摘要
type AccountSummary struct {
	Equity           decimal.Decimal // 保证金余额（含未实现盈亏）
	WalletBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	UnrealizedPnL    decimal.Decimal
}
