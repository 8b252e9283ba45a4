// Package state 运行状态的持久化与启动对账
package state

import (
	"time"

	"github.com/shopspring/decimal"

	"perpguard/exchange"
)

// CurrentVersion 状态文件格式版本
const CurrentVersion = 1

// PendingAction 未完成的动作
type PendingAction string

const (
	PendingNone  PendingAction = "NONE"
	PendingClose PendingAction = "CLOSE"
)

// 平仓结果代码
const (
	CloseSuccess        = "CLOSE_SUCCESS"
	CloseTimeout        = "CLOSE_TIMEOUT"
	CloseNoProgress     = "CLOSE_NO_PROGRESS"
	CloseIncompleteThin = "CLOSE_INCOMPLETE_THIN_BOOK"
	CloseCancelled      = "CLOSE_CANCELLED"
	CloseDryRun         = "DRY_RUN_CLOSE"
	CloseInProgress     = "CLOSE_IN_PROGRESS"
)

// 停机原因
const (
	HaltStartupMismatch = "STARTUP_MISMATCH"
)

// RuntimeState 唯一的持久化记录
type RuntimeState struct {
	Version              int                 `json:"version"`
	OpenPosition         *exchange.Position  `json:"open_position"`
	Halted               bool                `json:"halted"`
	HaltReason           string              `json:"halt_reason"`
	BaselineEquityUSDT   decimal.NullDecimal `json:"baseline_equity_usdt"`
	LastCandleOpenTimeMs int64               `json:"last_candle_open_time_ms"`
	PendingAction        PendingAction       `json:"pending_action"`
	PendingCloseReason   string              `json:"pending_close_reason"`
	CloseAttemptCount    int                 `json:"close_attempt_count"`
	LastCloseReason      string              `json:"last_close_reason"`
	LastCloseAttemptAt   *time.Time          `json:"last_close_attempt_at"`
	LastLoopStartedAt    *time.Time          `json:"last_loop_started_at"`
	FatalReason          string              `json:"fatal_reason"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// New 首次运行时的空状态
func New() *RuntimeState {
	return &RuntimeState{
		Version:       CurrentVersion,
		PendingAction: PendingNone,
	}
}

// Clone 深拷贝，供状态接口读取快照
func (s *RuntimeState) Clone() *RuntimeState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.OpenPosition = s.OpenPosition.Clone()
	if s.LastCloseAttemptAt != nil {
		t := *s.LastCloseAttemptAt
		cp.LastCloseAttemptAt = &t
	}
	if s.LastLoopStartedAt != nil {
		t := *s.LastLoopStartedAt
		cp.LastLoopStartedAt = &t
	}
	return &cp
}

// Halt 停机并记录原因，已停机时保留原有原因
func (s *RuntimeState) Halt(reason string) {
	if s.Halted && s.HaltReason != "" {
		return
	}
	s.Halted = true
	s.HaltReason = reason
}

// ClearHalt 人工解除停机
func (s *RuntimeState) ClearHalt() {
	s.Halted = false
	s.HaltReason = ""
}

// BeginClose 开始平仓序列；只有从 NONE 开始的新序列才重置尝试次数
func (s *RuntimeState) BeginClose(reason string) {
	if s.PendingAction != PendingClose {
		s.CloseAttemptCount = 0
	}
	s.PendingAction = PendingClose
	s.PendingCloseReason = reason
	s.LastCloseReason = CloseInProgress
}

// FinishClose 平仓序列结束
func (s *RuntimeState) FinishClose(outcome string) {
	s.PendingAction = PendingNone
	s.PendingCloseReason = ""
	s.LastCloseReason = outcome
}

// ClosePending 是否有未完成的平仓
func (s *RuntimeState) ClosePending() bool {
	return s.PendingAction == PendingClose
}
