package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"perpguard/state"
)

// Status 引擎运行快照，供状态接口读取
type Status struct {
	RunID           string              `json:"run_id"`
	Symbol          string              `json:"symbol"`
	Strategy        string              `json:"strategy"`
	Exchange        string              `json:"exchange"`
	DryRun          bool                `json:"dry_run"`
	KillSwitch      bool                `json:"kill_switch"`
	Halted          bool                `json:"halted"`
	HaltReason      string              `json:"halt_reason,omitempty"`
	PendingClose    string              `json:"pending_close,omitempty"`
	State           *state.RuntimeState `json:"state,omitempty"`
	Equity          decimal.NullDecimal `json:"equity"`
	PnLPct          decimal.Decimal     `json:"pnl_pct"`
	LastCycleAt     *time.Time          `json:"last_cycle_at,omitempty"`
	LastCycleResult string              `json:"last_cycle_result,omitempty"`
	LastCycleDetail string              `json:"last_cycle_detail,omitempty"`
	RepeatedErrors  int                 `json:"repeated_errors"`
	StartedAt       time.Time           `json:"started_at"`
}

// Status 返回快照副本，可在任意 goroutine 调用
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.KillSwitch = e.killSwitch.Enabled()
	if e.status.State != nil {
		s.State = e.status.State.Clone()
	}
	if e.status.LastCycleAt != nil {
		t := *e.status.LastCycleAt
		s.LastCycleAt = &t
	}
	return s
}

// publishStatus 在引擎线程内把当前状态复制到快照
func (e *Engine) publishStatus() {
	if e.st == nil {
		return
	}
	cp := e.st.Clone()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.StartedAt.IsZero() {
		e.status.StartedAt = e.now()
	}
	e.status.State = cp
	e.status.Halted = cp.Halted
	e.status.HaltReason = cp.HaltReason
	e.status.PendingClose = pendingCloseOf(cp)
}

func (e *Engine) setCycleStatus(at time.Time, result, detail string, repeatedErrors int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.LastCycleAt = &at
	e.status.LastCycleResult = result
	e.status.LastCycleDetail = detail
	e.status.RepeatedErrors = repeatedErrors
}
