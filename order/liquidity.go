package order

import (
	"github.com/shopspring/decimal"

	"perpguard/exchange"
)

var bpsDivisor = decimal.NewFromInt(10000)

// InBandLiquidity 平仓方向上、距最优价 bps 以内的挂单总量
// 买入平空吃卖盘，卖出平多吃买盘
func InBandLiquidity(book *exchange.OrderBook, closeSide exchange.OrderSide, bps decimal.Decimal) decimal.Decimal {
	if book == nil {
		return decimal.Zero
	}
	total := decimal.Zero
	offset := bps.Div(bpsDivisor)

	if closeSide == exchange.OrderSideBuy {
		if len(book.Asks) == 0 {
			return decimal.Zero
		}
		limit := book.Asks[0].Price.Mul(decimal.NewFromInt(1).Add(offset))
		for _, lv := range book.Asks {
			if lv.Price.GreaterThan(limit) {
				break
			}
			total = total.Add(lv.Quantity)
		}
		return total
	}

	if len(book.Bids) == 0 {
		return decimal.Zero
	}
	limit := book.Bids[0].Price.Mul(decimal.NewFromInt(1).Sub(offset))
	for _, lv := range book.Bids {
		if lv.Price.LessThan(limit) {
			break
		}
		total = total.Add(lv.Quantity)
	}
	return total
}

// SliceQty 本次平仓数量
// 流动性足够时一次平完，否则按 usage 比例切片，不低于 minSlice，不超过剩余数量
func SliceQty(remaining, inBand, usage, minSlice decimal.Decimal) decimal.Decimal {
	if !inBand.LessThan(remaining) {
		return remaining
	}
	slice := decimal.Max(usage.Mul(inBand), minSlice)
	return decimal.Min(slice, remaining)
}
