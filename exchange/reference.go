package exchange

import "github.com/shopspring/decimal"

// ReferencePrice 计算参考价格
// 买单优先卖一价，卖单优先买一价，盘口缺失时依次回退到最新成交价、标记价格
func ReferencePrice(t *Ticker, side OrderSide) (decimal.Decimal, string, bool) {
	if t == nil {
		return decimal.Zero, "", false
	}

	candidates := []struct {
		source string
		price  decimal.Decimal
	}{
		{"best_ask", t.BestAsk},
		{"last", t.Last},
		{"mark", t.Mark},
	}
	if side == OrderSideSell {
		candidates[0] = struct {
			source string
			price  decimal.Decimal
		}{"best_bid", t.BestBid}
	}

	for _, c := range candidates {
		if c.price.IsPositive() {
			return c.price, c.source, true
		}
	}
	return decimal.Zero, "", false
}
