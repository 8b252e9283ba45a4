package exchange

import (
	"context"
	"errors"
	"testing"
)

func newTestPaper() *PaperExchange {
	p := NewPaperExchange(nil, d("10000"))
	p.SetTicker(&Ticker{Symbol: "BTCUSDT", BestBid: d("99"), BestAsk: d("101"), Last: d("100"), Mark: d("100")})
	p.SetOrderBook("BTCUSDT", &OrderBook{
		Bids: []Level{{Price: d("99"), Quantity: d("1")}, {Price: d("98"), Quantity: d("2")}},
		Asks: []Level{{Price: d("101"), Quantity: d("1")}, {Price: d("102"), Quantity: d("2")}},
	})
	return p
}

func TestPaperOpenAndClose(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()

	res, err := p.PlaceOrder(ctx, &OrderRequest{Symbol: "BTCUSDT", Side: OrderSideBuy, Quantity: d("2")})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if res.Status != "FILLED" || !res.ExecutedQty.Equal(d("2")) {
		t.Fatalf("成交结果错误: %+v", res)
	}
	// 1@101 + 1@102
	if !res.AvgPrice.Equal(d("101.5")) {
		t.Errorf("成交均价错误: %s", res.AvgPrice)
	}

	pos, _ := p.GetPosition(ctx, "BTCUSDT")
	if pos == nil || pos.Side != SideLong || !pos.Quantity.Equal(d("2")) {
		t.Fatalf("持仓错误: %+v", pos)
	}

	// 只减仓卖单数量超过持仓时截断
	res, err = p.PlaceOrder(ctx, &OrderRequest{Symbol: "BTCUSDT", Side: OrderSideSell, Quantity: d("5"), ReduceOnly: true})
	if err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if !res.ExecutedQty.Equal(d("2")) {
		t.Errorf("只减仓成交量应为 2, 得到 %s", res.ExecutedQty)
	}
	if pos, _ := p.GetPosition(ctx, "BTCUSDT"); pos != nil {
		t.Errorf("应该已经空仓: %+v", pos)
	}

	// 1@99 + 1@98 - 203 = -6
	acct, _ := p.GetAccountSummary(ctx)
	if !acct.WalletBalance.Equal(d("9994")) {
		t.Errorf("钱包余额错误: %s", acct.WalletBalance)
	}
}

func TestPaperReduceOnlyRejectedWhenFlat(t *testing.T) {
	p := newTestPaper()
	_, err := p.PlaceOrder(context.Background(), &OrderRequest{Symbol: "BTCUSDT", Side: OrderSideSell, Quantity: d("1"), ReduceOnly: true})
	if !errors.Is(err, ErrReduceOnlyRejected) {
		t.Fatalf("期望只减仓拒单, 得到 %v", err)
	}
}

func TestPaperFillRatioAndInjectedError(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()
	p.SetPosition("BTCUSDT", &Position{Symbol: "BTCUSDT", Side: SideShort, Quantity: d("1"), EntryPrice: d("100")})

	p.SetFillRatio(d("0"))
	res, err := p.PlaceOrder(ctx, &OrderRequest{Symbol: "BTCUSDT", Side: OrderSideBuy, Quantity: d("1"), ReduceOnly: true})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if res.Status != "NEW" || !res.ExecutedQty.IsZero() {
		t.Errorf("零成交比例应不成交: %+v", res)
	}

	boom := errors.New("boom")
	p.SetError("get_position", boom)
	if _, err := p.GetPosition(ctx, "BTCUSDT"); !errors.Is(err, boom) {
		t.Errorf("期望注入错误, 得到 %v", err)
	}
	p.SetError("get_position", nil)
	if _, err := p.GetPosition(ctx, "BTCUSDT"); err != nil {
		t.Errorf("清除后不应报错: %v", err)
	}

	if n := len(p.Orders()); n != 1 {
		t.Errorf("订单记录应为 1 条, 得到 %d", n)
	}
}

func TestPaperMissingBook(t *testing.T) {
	p := newTestPaper()
	p.SetOrderBook("BTCUSDT", nil)
	_, err := p.GetOrderBook(context.Background(), "BTCUSDT", 5)
	var du *DataUnavailableError
	if !errors.As(err, &du) {
		t.Fatalf("期望 DataUnavailableError, 得到 %v", err)
	}
}
