package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
	"perpguard/safety"
)

// ActionClose 平仓动作
const ActionClose = "close"

// Signal 开仓信号
type Signal struct {
	Side       string              // buy/long 或 sell/short
	AmountUSDT decimal.NullDecimal // 为空时使用 trading.order_size_usdt
	Reason     string
	SLPrice    decimal.NullDecimal
	TPPrice    decimal.NullDecimal
}

// ExitSignal 平仓信号
type ExitSignal struct {
	Action string
	Side   exchange.OrderSide // 平仓订单方向
	Reason string
}

// MarketContext 检查平仓时的行情
type MarketContext struct {
	Price  decimal.Decimal
	Candle *exchange.Candle
	Now    time.Time
}

// Strategy 策略接口
// 所有方法都是纯观察，不下单也不修改运行状态
type Strategy interface {
	Name() string
	Update(candles []exchange.Candle)
	GetSignal() *Signal
	CheckExit(pos *exchange.Position, mc MarketContext) *ExitSignal
}

// Factory 策略构造函数
type Factory func(cfg *config.Config) Strategy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register("mean_reversion", func(cfg *config.Config) Strategy { return NewMeanReversionStrategy(cfg) })
	Register("random", func(cfg *config.Config) Strategy { return NewRandomStrategy(cfg) })
}

// Register 注册策略，同名覆盖
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names 已注册的策略名称
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New 按名称创建策略
func New(name string, cfg *config.Config) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知策略: %s (可选: %v)", name, Names())
	}
	return f(cfg), nil
}

// ShouldCloseOnOpposite 信号方向与持仓相反时需要先平仓
func ShouldCloseOnOpposite(pos *exchange.Position, sig *Signal) bool {
	if pos == nil || sig == nil {
		return false
	}
	side, ok := safety.ParseOrderSide(sig.Side)
	if !ok {
		return false
	}
	return side.PositionSide() != pos.Side
}
