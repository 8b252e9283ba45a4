package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
)

func flatCandles(n int) []exchange.Candle {
	candles := make([]exchange.Candle, 0, n+2)
	for i := 0; i < n; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 101
		}
		candles = append(candles, exchange.Candle{
			OpenTime: int64(i) * 60000, Open: c, High: c + 1, Low: c - 1, Close: c,
		})
	}
	return candles
}

// withBreakout 追加一根突破K线和一根当前K线
func withBreakout(prevClose, curOpen float64) []exchange.Candle {
	candles := flatCandles(30)
	n := int64(len(candles))
	candles = append(candles,
		exchange.Candle{OpenTime: n * 60000, Open: 100, High: max(101, prevClose+1), Low: min(99, prevClose-1), Close: prevClose},
		exchange.Candle{OpenTime: (n + 1) * 60000, Open: curOpen, High: curOpen + 2, Low: curOpen - 1, Close: curOpen + 1},
	)
	return candles
}

func TestMeanReversionBuyBelowLowerBand(t *testing.T) {
	s := NewMeanReversionStrategy(config.DefaultConfig())
	s.Update(withBreakout(90, 90))

	sig := s.GetSignal()
	if sig == nil {
		t.Fatal("跌破下轨应产生做多信号")
	}
	if sig.Side != "buy" {
		t.Fatalf("期望 buy, 得到 %s", sig.Side)
	}
	if !sig.SLPrice.Valid || !sig.SLPrice.Decimal.LessThan(decimal.NewFromInt(90)) {
		t.Errorf("止损应低于入场价 90, 得到 %v", sig.SLPrice)
	}
	if !sig.TPPrice.Valid || !sig.TPPrice.Decimal.GreaterThan(decimal.NewFromInt(90)) {
		t.Errorf("止盈(中轨)应高于入场价 90, 得到 %v", sig.TPPrice)
	}
	if !sig.AmountUSDT.Valid || !sig.AmountUSDT.Decimal.IsPositive() {
		t.Errorf("下单金额应为正数, 得到 %v", sig.AmountUSDT)
	}
}

func TestMeanReversionSellAboveUpperBand(t *testing.T) {
	s := NewMeanReversionStrategy(config.DefaultConfig())
	s.Update(withBreakout(111, 111))

	sig := s.GetSignal()
	if sig == nil || sig.Side != "sell" {
		t.Fatalf("突破上轨应产生做空信号, 得到 %+v", sig)
	}
	if !sig.SLPrice.Decimal.GreaterThan(decimal.NewFromInt(111)) {
		t.Errorf("空单止损应高于入场价, 得到 %s", sig.SLPrice.Decimal)
	}
}

func TestMeanReversionNoSignal(t *testing.T) {
	s := NewMeanReversionStrategy(config.DefaultConfig())

	s.Update(flatCandles(10))
	if sig := s.GetSignal(); sig != nil {
		t.Errorf("K线不足时不应有信号, 得到 %+v", sig)
	}

	s.Update(flatCandles(40))
	if sig := s.GetSignal(); sig != nil {
		t.Errorf("价格在带内时不应有信号, 得到 %+v", sig)
	}
}

func TestMeanReversionCheckExit(t *testing.T) {
	s := NewMeanReversionStrategy(config.DefaultConfig())
	s.Update(withBreakout(90, 90))

	long := &exchange.Position{Symbol: "BTCUSDT", Side: exchange.SideLong, Quantity: decimal.NewFromInt(1)}
	short := &exchange.Position{Symbol: "BTCUSDT", Side: exchange.SideShort, Quantity: decimal.NewFromInt(1)}

	tests := []struct {
		name     string
		pos      *exchange.Position
		price    int64
		wantExit bool
		wantSide exchange.OrderSide
	}{
		{"多单未到中轨", long, 92, false, ""},
		{"多单触及中轨", long, 120, true, exchange.OrderSideSell},
		{"空单未到中轨", short, 120, false, ""},
		{"空单触及中轨", short, 92, true, exchange.OrderSideBuy},
		{"无持仓", nil, 92, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit := s.CheckExit(tt.pos, MarketContext{Price: decimal.NewFromInt(tt.price), Now: time.Now()})
			if (exit != nil) != tt.wantExit {
				t.Fatalf("期望平仓=%v, 得到 %+v", tt.wantExit, exit)
			}
			if exit != nil && (exit.Side != tt.wantSide || exit.Action != ActionClose) {
				t.Errorf("期望 %s 平仓, 得到 %+v", tt.wantSide, exit)
			}
		})
	}
}

func TestRandomStrategy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trading.IntervalMinutes = 15
	cfg.Trading.OrderSizeUSDT = 500

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chance := 0.1
	rs := NewRandomStrategy(cfg)
	rs.now = func() time.Time { return now }
	rs.chance = func() float64 { return chance }

	sig := rs.GetSignal()
	if sig == nil || sig.Side != "buy" || !sig.AmountUSDT.Decimal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("0.1 应产生 500 USDT 做多信号, 得到 %+v", sig)
	}

	chance = 0.9
	now = now.Add(5 * time.Minute)
	if sig := rs.GetSignal(); sig != nil {
		t.Errorf("间隔内不应重复出信号, 得到 %+v", sig)
	}

	now = now.Add(10 * time.Minute)
	if sig := rs.GetSignal(); sig == nil || sig.Side != "sell" {
		t.Errorf("0.9 应产生做空信号, 得到 %+v", sig)
	}

	chance = 0.5
	now = now.Add(15 * time.Minute)
	if sig := rs.GetSignal(); sig != nil {
		t.Errorf("0.5 不应有信号, 得到 %+v", sig)
	}

	if exit := rs.CheckExit(&exchange.Position{Side: exchange.SideLong}, MarketContext{}); exit != nil {
		t.Errorf("随机策略不应主动平仓")
	}
}

func TestRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, name := range []string{"mean_reversion", "random"} {
		s, err := New(name, cfg)
		if err != nil {
			t.Fatalf("创建 %s 失败: %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("期望 %s, 得到 %s", name, s.Name())
		}
	}
	if _, err := New("grid", cfg); err == nil {
		t.Error("未注册的策略应返回错误")
	}
}

func TestShouldCloseOnOpposite(t *testing.T) {
	long := &exchange.Position{Side: exchange.SideLong}
	short := &exchange.Position{Side: exchange.SideShort}

	tests := []struct {
		name string
		pos  *exchange.Position
		sig  *Signal
		want bool
	}{
		{"多单遇做空信号", long, &Signal{Side: "sell"}, true},
		{"多单遇做多信号", long, &Signal{Side: "buy"}, false},
		{"空单遇 long 信号", short, &Signal{Side: "long"}, true},
		{"空单遇 short 信号", short, &Signal{Side: "short"}, false},
		{"无持仓", nil, &Signal{Side: "sell"}, false},
		{"无信号", long, nil, false},
		{"方向无法识别", long, &Signal{Side: "hold"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCloseOnOpposite(tt.pos, tt.sig); got != tt.want {
				t.Errorf("期望 %v, 得到 %v", tt.want, got)
			}
		})
	}
}
