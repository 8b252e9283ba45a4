package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"perpguard/exchange"
	"perpguard/utils"
)

func TestIsReduceOnlyRejection(t *testing.T) {
	cases := map[string]bool{
		"code=-2022, msg=ReduceOnly Order is rejected.":            true,
		"ReduceOnly Order is rejected":                             true,
		"order would not reduce only position":                     true,
		"code=-4164, msg=Order's notional must be no smaller than": false,
		"code=-4164, msg=reduce only notional too small":           false,
		"code=-2019, msg=Margin is insufficient":                   false,
	}
	for msg, want := range cases {
		if got := IsReduceOnlyRejection(errors.New(msg)); got != want {
			t.Errorf("%q: 期望 %v, 得到 %v", msg, want, got)
		}
	}
	if IsReduceOnlyRejection(nil) {
		t.Error("nil 不是只减仓拒单")
	}
}

func TestExecutorPlaceMarketJournals(t *testing.T) {
	h := newHarness(testConfig(), false, d("0.5"))
	exec := NewExecutor(h.paper, symbol, 100, false, h.journal)

	res, err := exec.PlaceMarket(context.Background(), exchange.OrderSideBuy, d("0.1"), false, utils.IntentEntry)
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if intent, side, ok := utils.ParseOrderID(res.ClientOrderID); !ok || intent != utils.IntentEntry || side != "BUY" {
		t.Errorf("客户端订单ID格式错误: %s", res.ClientOrderID)
	}
	if len(h.journal.orders) != 1 {
		t.Fatalf("订单应记录到审计库")
	}
	rec := h.journal.orders[0]
	if rec.Status != "FILLED" || !rec.ExecutedQty.Equal(d("0.1")) || rec.ReduceOnly || rec.DryRun {
		t.Errorf("审计记录错误: %+v", rec)
	}
}

func TestExecutorErrorIsJournaled(t *testing.T) {
	h := newHarness(testConfig(), false, d("0.5"))
	h.paper.SetError("place_order", errors.New("code=-2019, msg=Margin is insufficient"))
	exec := NewExecutor(h.paper, symbol, 100, false, h.journal)

	_, err := exec.PlaceMarket(context.Background(), exchange.OrderSideSell, d("0.1"), false, utils.IntentEntry)
	if err == nil || !strings.Contains(err.Error(), "-2019") {
		t.Fatalf("应返回交易所错误: %v", err)
	}
	if len(h.journal.orders) != 1 || h.journal.orders[0].Status != "ERROR" || h.journal.orders[0].Error == "" {
		t.Errorf("失败订单也应记录: %+v", h.journal.orders)
	}
}

func TestExecutorDryRunSendsNothing(t *testing.T) {
	h := newHarness(testConfig(), false, d("0.5"))
	exec := NewExecutor(h.paper, symbol, 100, true, nil)

	res, err := exec.PlaceMarket(context.Background(), exchange.OrderSideBuy, d("0.2"), false, utils.IntentEntry)
	if err != nil {
		t.Fatalf("模拟下单失败: %v", err)
	}
	if res.Status != StatusDryRun || !res.ExecutedQty.Equal(d("0.2")) {
		t.Errorf("模拟结果错误: %+v", res)
	}
	if len(h.paper.Orders()) != 0 {
		t.Error("模拟模式不应向交易所下单")
	}
}
