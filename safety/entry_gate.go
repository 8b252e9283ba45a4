package safety

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
)

// 开仓拦截代码，按检查顺序排列
const (
	CodeOK                    = "OK"
	CodeInvalidSide           = "INVALID_SIDE"
	CodeKillSwitch            = "KILL_SWITCH"
	CodeHalted                = "HALTED"
	CodeReferencePriceMissing = "REFERENCE_PRICE_MISSING"
	CodeNotionalInputMissing  = "NOTIONAL_INPUT_MISSING"
	CodeInvalidNotional       = "INVALID_NOTIONAL"
	CodeMarketLimitsMissing   = "MARKET_LIMITS_MISSING"
	CodeMinQtyInvalid         = "MIN_QTY_INVALID"
	CodeMinQtyViolation       = "MIN_QTY_VIOLATION"
	CodeMinNotionalViolation  = "MIN_NOTIONAL_VIOLATION"
)

// EntryContext 开仓检查输入，缺失的数据保持零值/nil
type EntryContext struct {
	Side       string
	KillSwitch bool
	Halted     bool
	Ticker     *exchange.Ticker
	// AmountUSDT 策略或配置给出的名义价值；无效时按权益和杠杆推算
	AmountUSDT decimal.NullDecimal
	Equity     decimal.NullDecimal
	Leverage   int
	Limits     *exchange.MarketLimits
}

// EntryDecision 开仓检查结果
type EntryDecision struct {
	Allowed            bool
	Code               string
	Detail             string
	Side               exchange.OrderSide
	Quantity           decimal.Decimal
	Notional           decimal.Decimal
	ReferencePrice     decimal.Decimal
	PriceSource        string
	DerivedMinNotional decimal.Decimal
}

// Err 被拦截时返回 *RiskBlockedError
func (d EntryDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RiskBlockedError{Code: d.Code, Detail: d.Detail}
}

// EntryGate 开仓闸门，唯一有权放行新开仓的组件
type EntryGate struct {
	failClosed      bool
	safetyFactor    decimal.Decimal
	riskPerTradePct decimal.Decimal
}

// NewEntryGate 创建开仓闸门
func NewEntryGate(cfg *config.Config) *EntryGate {
	return &EntryGate{
		failClosed:      cfg.Risk.FailClosed,
		safetyFactor:    decimal.NewFromFloat(cfg.Risk.MinNotionalSafetyFactor),
		riskPerTradePct: decimal.NewFromFloat(cfg.Risk.RiskPerTradePct),
	}
}

// ParseOrderSide 解析信号方向，兼容 buy/sell 和 long/short
func ParseOrderSide(s string) (exchange.OrderSide, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return exchange.OrderSideBuy, true
	case "sell", "short":
		return exchange.OrderSideSell, true
	}
	return "", false
}

// DerivedMinNotional = min_qty × reference_price × safety_factor
func DerivedMinNotional(minQty, referencePrice, factor decimal.Decimal) decimal.Decimal {
	return minQty.Mul(referencePrice).Mul(factor)
}

// NotionalFromRisk 按权益风险比例和杠杆计算名义价值，requested 为正时以其为上限
func NotionalFromRisk(equity, riskPct decimal.Decimal, leverage int, requested decimal.Decimal) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	if equity.IsNegative() {
		equity = decimal.Zero
	}
	notional := equity.Mul(riskPct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(leverage)))
	if requested.IsPositive() && requested.LessThan(notional) {
		return requested
	}
	return notional
}

func block(code, format string, args ...interface{}) EntryDecision {
	return EntryDecision{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CanEnter 依次检查，第一个失败的检查决定拦截代码
func (g *EntryGate) CanEnter(ec EntryContext) EntryDecision {
	side, ok := ParseOrderSide(ec.Side)
	if !ok {
		return block(CodeInvalidSide, "不支持的方向: %q", ec.Side)
	}
	if ec.KillSwitch {
		return block(CodeKillSwitch, "紧急停止开关已开启")
	}
	if ec.Halted {
		return block(CodeHalted, "交易已停机")
	}

	refPrice, source, ok := exchange.ReferencePrice(ec.Ticker, side)
	if !ok {
		return block(CodeReferencePriceMissing, "参考价格不可用")
	}

	amount, ok := g.resolveNotional(ec)
	if !ok {
		return block(CodeNotionalInputMissing, "缺少下单金额且无法按权益推算")
	}
	if !amount.IsPositive() {
		return block(CodeInvalidNotional, "下单金额无效: %s", amount)
	}

	decision := EntryDecision{
		Code:           CodeOK,
		Side:           side,
		Notional:       amount,
		ReferencePrice: refPrice,
		PriceSource:    source,
	}

	if ec.Limits == nil {
		if g.failClosed {
			return block(CodeMarketLimitsMissing, "合约限制缺失且 fail_closed 已开启")
		}
		decision.Allowed = true
		decision.Detail = "合约限制缺失，跳过最小下单量检查"
		decision.Quantity = amount.Div(refPrice)
		return decision
	}

	minQty := ec.Limits.MinQty
	if !minQty.IsPositive() {
		if g.failClosed {
			return block(CodeMinQtyInvalid, "min_qty 无效: %s", minQty)
		}
		minQty = decimal.Zero
	}

	qty := ec.Limits.TruncateQty(amount.Div(refPrice))
	decision.Quantity = qty
	if minQty.IsPositive() && qty.LessThan(minQty) {
		d := block(CodeMinQtyViolation, "数量 %s < min_qty %s", qty, minQty)
		d.Quantity = qty
		return d
	}

	if minQty.IsPositive() {
		decision.DerivedMinNotional = DerivedMinNotional(minQty, refPrice, g.safetyFactor)
		if amount.LessThan(decision.DerivedMinNotional) {
			d := block(CodeMinNotionalViolation, "金额 %s < 最小名义价值 %s", amount, decision.DerivedMinNotional)
			d.Quantity = qty
			d.DerivedMinNotional = decision.DerivedMinNotional
			return d
		}
	}

	decision.Allowed = true
	return decision
}

// resolveNotional 优先使用请求金额，否则按权益风险比例推算
func (g *EntryGate) resolveNotional(ec EntryContext) (decimal.Decimal, bool) {
	if ec.AmountUSDT.Valid {
		return ec.AmountUSDT.Decimal, true
	}
	if !ec.Equity.Valid || ec.Leverage <= 0 || !g.riskPerTradePct.IsPositive() {
		return decimal.Zero, false
	}
	return NotionalFromRisk(ec.Equity.Decimal, g.riskPerTradePct, ec.Leverage, decimal.Zero), true
}
