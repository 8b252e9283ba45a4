package strategy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
	"perpguard/logger"
)

// RandomStrategy 随机信号，仅用于演示和联调
type RandomStrategy struct {
	orderSize decimal.Decimal
	interval  time.Duration

	mu         sync.Mutex
	lastSignal time.Time
	now        func() time.Time
	chance     func() float64
}

// NewRandomStrategy 创建随机策略，信号最短间隔为一个K线周期
func NewRandomStrategy(cfg *config.Config) *RandomStrategy {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	logger.Warn("⚠️ [随机策略] 仅用于演示，请勿用于实盘")
	return &RandomStrategy{
		orderSize: decimal.NewFromFloat(cfg.Trading.OrderSizeUSDT),
		interval:  time.Duration(cfg.Trading.IntervalMinutes) * time.Minute,
		now:       time.Now,
		chance:    rng.Float64,
	}
}

// Name 返回策略名称
func (rs *RandomStrategy) Name() string {
	return "random"
}

// Update 随机策略不使用K线
func (rs *RandomStrategy) Update([]exchange.Candle) {}

// GetSignal 30% 做多、30% 做空、40% 无信号
func (rs *RandomStrategy) GetSignal() *Signal {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.now()
	if !rs.lastSignal.IsZero() && now.Sub(rs.lastSignal) < rs.interval {
		return nil
	}
	rs.lastSignal = now

	chance := rs.chance()
	sig := &Signal{
		AmountUSDT: decimal.NewNullDecimal(rs.orderSize),
		Reason:     fmt.Sprintf("随机信号 (%.2f)", chance),
	}
	switch {
	case chance < 0.3:
		sig.Side = "buy"
	case chance > 0.7:
		sig.Side = "sell"
	default:
		return nil
	}
	return sig
}

// CheckExit 随机策略不主动平仓
func (rs *RandomStrategy) CheckExit(*exchange.Position, MarketContext) *ExitSignal {
	return nil
}
