package market

import (
	"testing"

	"perpguard/exchange"
)

func TestGateAccept(t *testing.T) {
	g := NewGate()
	tests := []struct {
		name       string
		candle     *exchange.Candle
		last       int64
		wantAccept bool
		wantReason string
	}{
		{"首根K线", &exchange.Candle{OpenTime: 60_000}, 0, true, ""},
		{"更新的K线", &exchange.Candle{OpenTime: 120_000}, 60_000, true, ""},
		{"重复K线", &exchange.Candle{OpenTime: 60_000, Close: 2}, 60_000, false, ReasonDuplicateCandle},
		{"过期K线", &exchange.Candle{OpenTime: 30_000}, 60_000, false, ReasonStaleCandle},
		{"缺失K线", nil, 60_000, false, ReasonCandleMissing},
		{"开盘时间为零", &exchange.Candle{}, 0, false, ReasonCandleMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Accept(tt.candle, tt.last)
			if d.Accepted != tt.wantAccept {
				t.Errorf("Accepted: 期望 %v, 得到 %v", tt.wantAccept, d.Accepted)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason: 期望 %q, 得到 %q", tt.wantReason, d.Reason)
			}
		})
	}
}

func TestLatestClosedSkipsFormingCandle(t *testing.T) {
	candles := []exchange.Candle{
		{OpenTime: 0, CloseTime: 59_999},
		{OpenTime: 60_000, CloseTime: 119_999},
		{OpenTime: 120_000, CloseTime: 179_999},
	}

	c := LatestClosed(candles, 125_000)
	if c == nil || c.OpenTime != 60_000 {
		t.Fatalf("期望开盘时间 60000 的K线, 得到 %+v", c)
	}
	if n := len(ClosedOnly(candles, 125_000)); n != 2 {
		t.Errorf("已收盘K线应为 2 根, 得到 %d", n)
	}
	if LatestClosed(candles, 1_000) != nil {
		t.Error("没有已收盘K线时应返回 nil")
	}
}
