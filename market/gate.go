// Package market 过滤K线快照，拦截过期和重复数据
package market

import (
	"perpguard/exchange"
)

// 跳过原因
const (
	ReasonCandleMissing   = "CANDLE_MISSING"
	ReasonDuplicateCandle = "DUPLICATE_CANDLE"
	ReasonStaleCandle     = "STALE_CANDLE"
)

// Decision 门控结果
type Decision struct {
	Accepted bool
	Reason   string
}

// Gate K线门控，无状态，上次处理的开盘时间由调用方传入
type Gate struct{}

// NewGate 创建门控
func NewGate() *Gate {
	return &Gate{}
}

// Accept 只接受开盘时间严格晚于 lastOpenTimeMs 的K线
func (g *Gate) Accept(candle *exchange.Candle, lastOpenTimeMs int64) Decision {
	if candle == nil || candle.OpenTime <= 0 {
		return Decision{Reason: ReasonCandleMissing}
	}
	if candle.OpenTime == lastOpenTimeMs {
		return Decision{Reason: ReasonDuplicateCandle}
	}
	if candle.OpenTime < lastOpenTimeMs {
		return Decision{Reason: ReasonStaleCandle}
	}
	return Decision{Accepted: true}
}

// LatestClosed 返回已收盘的最新K线，nowMs 之后收盘的K线（仍在形成中）被忽略
func LatestClosed(candles []exchange.Candle, nowMs int64) *exchange.Candle {
	var latest *exchange.Candle
	for i := range candles {
		c := &candles[i]
		if c.CloseTime > nowMs {
			continue
		}
		if latest == nil || c.OpenTime > latest.OpenTime {
			latest = c
		}
	}
	return latest
}

// ClosedOnly 过滤掉仍在形成中的K线，保持原有顺序
func ClosedOnly(candles []exchange.Candle, nowMs int64) []exchange.Candle {
	out := make([]exchange.Candle, 0, len(candles))
	for _, c := range candles {
		if c.CloseTime <= nowMs {
			out = append(out, c)
		}
	}
	return out
}
