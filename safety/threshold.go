package safety

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpguard/config"
)

// 阈值检查代码
const (
	CodeEquityDataMissing = "EQUITY_DATA_MISSING"
	CodeEquityDataInvalid = "EQUITY_DATA_INVALID"
	CodeMaxDrawdownHit    = "MAX_DRAWDOWN_HIT"
	CodeProfitTargetHit   = "PROFIT_TARGET_HIT"
)

// 阈值动作
const (
	ActionNone        = "none"
	ActionHalt        = "halt"
	ActionFlattenHalt = config.ThresholdActionFlattenHalt
)

var hundred = decimal.NewFromInt(100)

// ThresholdDecision 阈值检查结果
type ThresholdDecision struct {
	Triggered bool
	Code      string
	Action    string
	Detail    string
	PnLPct    decimal.Decimal
}

// ThresholdMonitor 回撤/止盈监控，基准为会话开始时的绝对权益，不是滚动高点
type ThresholdMonitor struct {
	track      config.ThresholdTrack
	action     string
	failClosed bool
}

// NewThresholdMonitor 使用当前会话的阈值档位
func NewThresholdMonitor(cfg *config.Config) *ThresholdMonitor {
	return &ThresholdMonitor{
		track:      cfg.ActiveThresholds(),
		action:     cfg.Risk.ThresholdAction,
		failClosed: cfg.Risk.FailClosed,
	}
}

// PnLPct = (equity − baseline) / baseline × 100
func PnLPct(equity, baseline decimal.Decimal) decimal.Decimal {
	return equity.Sub(baseline).Div(baseline).Mul(hundred)
}

// Evaluate 检查当前权益相对基准的收益率
func (m *ThresholdMonitor) Evaluate(equity, baseline decimal.NullDecimal) ThresholdDecision {
	if !equity.Valid || !baseline.Valid {
		return m.dataProblem(CodeEquityDataMissing, "权益数据缺失")
	}
	if !equity.Decimal.IsPositive() || !baseline.Decimal.IsPositive() {
		return m.dataProblem(CodeEquityDataInvalid,
			fmt.Sprintf("权益数据无效 baseline=%s current=%s", baseline.Decimal, equity.Decimal))
	}

	pnl := PnLPct(equity.Decimal, baseline.Decimal)
	maxDD := decimal.NewFromFloat(m.track.MaxDrawdownPct)
	target := decimal.NewFromFloat(m.track.ProfitTargetPct)

	if pnl.LessThanOrEqual(maxDD.Neg()) {
		return ThresholdDecision{
			Triggered: true,
			Code:      CodeMaxDrawdownHit,
			Action:    m.action,
			Detail:    fmt.Sprintf("回撤 %s%% <= -%s%%", pnl.StringFixed(2), maxDD.StringFixed(2)),
			PnLPct:    pnl,
		}
	}
	if pnl.GreaterThanOrEqual(target) {
		return ThresholdDecision{
			Triggered: true,
			Code:      CodeProfitTargetHit,
			Action:    m.action,
			Detail:    fmt.Sprintf("收益 %s%% >= %s%%", pnl.StringFixed(2), target.StringFixed(2)),
			PnLPct:    pnl,
		}
	}
	return ThresholdDecision{Code: CodeOK, Action: ActionNone, PnLPct: pnl}
}

func (m *ThresholdMonitor) dataProblem(code, detail string) ThresholdDecision {
	action := ActionNone
	if m.failClosed {
		action = ActionHalt
	}
	return ThresholdDecision{Code: code, Action: action, Detail: detail}
}
