package strategy

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
	"perpguard/logger"
)

// MeanReversionStrategy 布林带均值回归策略
// 前一根K线收盘跌破下轨做多、突破上轨做空，触及中轨平仓；仓位按 ATR 止损距离计算
type MeanReversionStrategy struct {
	bbWindow        int
	bbStd           float64
	atrWindow       int
	slATRMultiplier float64
	riskAmount      float64

	mu      sync.RWMutex
	candles []exchange.Candle
	upper   []float64
	middle  []float64
	lower   []float64
	atr     []float64
}

// NewMeanReversionStrategy 创建均值回归策略
func NewMeanReversionStrategy(cfg *config.Config) *MeanReversionStrategy {
	s := cfg.Strategy
	mrs := &MeanReversionStrategy{
		bbWindow:        s.BBWindow,
		bbStd:           s.BBStd,
		atrWindow:       s.ATRWindow,
		slATRMultiplier: s.SLATRMultiplier,
		riskAmount:      s.Capital * s.RiskPerTradePct / 100,
	}
	if mrs.bbWindow < 2 {
		mrs.bbWindow = 20
	}
	if mrs.atrWindow < 1 {
		mrs.atrWindow = 14
	}
	logger.Info("✅ [均值回归] 布林带(%d, %.1f) ATR(%d) 止损 %.2f×ATR 单笔风险 %.2f USDT",
		mrs.bbWindow, mrs.bbStd, mrs.atrWindow, mrs.slATRMultiplier, mrs.riskAmount)
	return mrs
}

// Name 返回策略名称
func (mrs *MeanReversionStrategy) Name() string {
	return "mean_reversion"
}

func (mrs *MeanReversionStrategy) minRows() int {
	if mrs.bbWindow > mrs.atrWindow {
		return mrs.bbWindow
	}
	return mrs.atrWindow
}

// Update 用已收盘的K线重新计算指标
func (mrs *MeanReversionStrategy) Update(candles []exchange.Candle) {
	mrs.mu.Lock()
	defer mrs.mu.Unlock()

	mrs.candles = append(mrs.candles[:0], candles...)
	mrs.upper, mrs.middle, mrs.lower, mrs.atr = nil, nil, nil, nil
	if len(candles) < mrs.minRows()+1 {
		return
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i], highs[i], lows[i] = c.Close, c.High, c.Low
	}
	mrs.upper, mrs.middle, mrs.lower = talib.BBands(closes, mrs.bbWindow, mrs.bbStd, mrs.bbStd, talib.SMA)
	mrs.atr = talib.Atr(highs, lows, closes, mrs.atrWindow)
}

// GetSignal 根据前一根K线相对布林带的位置给出开仓信号
func (mrs *MeanReversionStrategy) GetSignal() *Signal {
	mrs.mu.RLock()
	defer mrs.mu.RUnlock()

	n := len(mrs.candles)
	if n < mrs.minRows()+1 || len(mrs.atr) != n {
		return nil
	}
	cur, prev := n-1, n-2

	atr := mrs.atr[cur]
	middle := mrs.middle[cur]
	if atr <= 0 || middle <= 0 || mrs.lower[prev] <= 0 {
		return nil
	}

	entry := mrs.candles[cur].Open
	slDistance := atr * mrs.slATRMultiplier
	if slDistance <= 0 || entry <= 0 {
		return nil
	}
	amountUSDT := mrs.riskAmount / slDistance * entry
	if amountUSDT <= 0 {
		return nil
	}

	prevClose := mrs.candles[prev].Close
	sig := &Signal{
		AmountUSDT: decimal.NewNullDecimal(decimal.NewFromFloat(amountUSDT)),
		TPPrice:    decimal.NewNullDecimal(decimal.NewFromFloat(middle)),
	}
	switch {
	case prevClose < mrs.lower[prev]:
		sig.Side = "buy"
		sig.SLPrice = decimal.NewNullDecimal(decimal.NewFromFloat(entry - slDistance))
		sig.Reason = fmt.Sprintf("收盘价 %.2f 跌破下轨 %.2f", prevClose, mrs.lower[prev])
	case prevClose > mrs.upper[prev]:
		sig.Side = "sell"
		sig.SLPrice = decimal.NewNullDecimal(decimal.NewFromFloat(entry + slDistance))
		sig.Reason = fmt.Sprintf("收盘价 %.2f 突破上轨 %.2f", prevClose, mrs.upper[prev])
	default:
		return nil
	}
	return sig
}

// CheckExit 价格回到中轨时平仓
func (mrs *MeanReversionStrategy) CheckExit(pos *exchange.Position, mc MarketContext) *ExitSignal {
	if pos == nil || !mc.Price.IsPositive() {
		return nil
	}

	mrs.mu.RLock()
	n := len(mrs.middle)
	var middle float64
	if n > 0 {
		middle = mrs.middle[n-1]
	}
	mrs.mu.RUnlock()
	if middle <= 0 {
		return nil
	}

	price, _ := mc.Price.Float64()
	reason := fmt.Sprintf("触及中轨 %.2f", middle)
	switch {
	case pos.Side == exchange.SideLong && price >= middle:
		return &ExitSignal{Action: ActionClose, Side: exchange.OrderSideSell, Reason: reason}
	case pos.Side == exchange.SideShort && price <= middle:
		return &ExitSignal{Action: ActionClose, Side: exchange.OrderSideBuy, Reason: reason}
	}
	return nil
}
