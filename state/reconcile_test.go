package state

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"perpguard/exchange"
)

func pos(side exchange.Side, qty string) *exchange.Position {
	return &exchange.Position{Symbol: "ETHUSDT", Side: side, Quantity: d(qty), EntryPrice: d("2000")}
}

func TestReconcileClassification(t *testing.T) {
	tol := d("0.000001")
	tests := []struct {
		name   string
		local  *exchange.Position
		remote *exchange.Position
		want   ReconcileStatus
	}{
		{"均为空仓", nil, nil, ReconcileMatch},
		{"数量一致", pos(exchange.SideLong, "0.5"), pos(exchange.SideLong, "0.5"), ReconcileMatch},
		{"容差内", pos(exchange.SideLong, "0.5"), pos(exchange.SideLong, "0.5000005"), ReconcileMatch},
		{"数量不同", pos(exchange.SideLong, "0.5"), pos(exchange.SideLong, "0.3"), ReconcileMismatchSize},
		{"方向不同", pos(exchange.SideLong, "0.5"), pos(exchange.SideShort, "0.5"), ReconcileMismatchSize},
		{"本地缺失", nil, pos(exchange.SideShort, "0.5"), ReconcileMismatchMissingLocal},
		{"交易所缺失", pos(exchange.SideLong, "0.5"), nil, ReconcileMismatchMissingRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(tt.local, tt.remote, tol)
			if res.Status != tt.want {
				t.Fatalf("期望 %s, 得到 %s", tt.want, res.Status)
			}
			var mm *ReconcileMismatchError
			if got := errors.As(res.Err(), &mm); got == res.Matched() {
				t.Errorf("Err() 与 Matched() 不一致")
			}
		})
	}
}

func TestAdoptRemoteMakesPositionsEqual(t *testing.T) {
	cases := []struct {
		local, remote *exchange.Position
	}{
		{nil, pos(exchange.SideShort, "0.5")},
		{pos(exchange.SideLong, "0.5"), nil},
		{pos(exchange.SideLong, "0.5"), pos(exchange.SideLong, "0.25")},
		{pos(exchange.SideLong, "0.5"), pos(exchange.SideShort, "1.5")},
	}
	for _, c := range cases {
		st := New()
		st.OpenPosition = c.local
		st.AdoptRemote(c.remote)
		if !st.OpenPosition.Equal(c.remote) {
			t.Errorf("采纳后本地持仓应与交易所完全一致: %+v vs %+v", st.OpenPosition, c.remote)
		}
		if c.remote != nil && st.OpenPosition == c.remote {
			t.Error("应复制交易所持仓而不是共享指针")
		}
		if res := Reconcile(st.OpenPosition, c.remote, decimal.Zero); !res.Matched() {
			t.Errorf("采纳后对账应一致, 得到 %s", res.Status)
		}
	}
}
