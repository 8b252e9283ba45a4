package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord 订单记录
type OrderRecord struct {
	ID            int64           `json:"id"`
	RunID         string          `json:"run_id"`
	Symbol        string          `json:"symbol"`
	ClientOrderID string          `json:"client_order_id"`
	OrderID       string          `json:"order_id"`
	Side          string          `json:"side"`
	Intent        string          `json:"intent"` // EN 开仓 / CL 平仓
	Quantity      decimal.Decimal `json:"quantity"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	ReduceOnly    bool            `json:"reduce_only"`
	Status        string          `json:"status"`
	DryRun        bool            `json:"dry_run"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CloseAttemptRecord 单次平仓尝试
type CloseAttemptRecord struct {
	ID            int64           `json:"id"`
	RunID         string          `json:"run_id"`
	Symbol        string          `json:"symbol"`
	Reason        string          `json:"reason"`
	AttemptIndex  int             `json:"attempt_index"`
	SliceQty      decimal.Decimal `json:"slice_qty"`
	Remaining     decimal.Decimal `json:"remaining"`
	InBand        decimal.Decimal `json:"in_band"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	ElapsedMs     int64           `json:"elapsed_ms"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CloseSequenceRecord 一次完整的平仓序列
type CloseSequenceRecord struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Reason     string          `json:"reason"`
	Outcome    string          `json:"outcome"`
	Attempts   int             `json:"attempts"`
	InitialQty decimal.Decimal `json:"initial_qty"`
	Remaining  decimal.Decimal `json:"remaining"`
	DurationMs int64           `json:"duration_ms"`
	DryRun     bool            `json:"dry_run"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ReconciliationHistory 启动对账记录
type ReconciliationHistory struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	Policy     string          `json:"policy"`
	Action     string          `json:"action"`
	LocalSide  string          `json:"local_side"`
	LocalQty   decimal.Decimal `json:"local_qty"`
	RemoteSide string          `json:"remote_side"`
	RemoteQty  decimal.Decimal `json:"remote_qty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RiskDecisionRecord 风控决策（开仓检查或阈值检查）
type RiskDecisionRecord struct {
	ID                 int64           `json:"id"`
	RunID              string          `json:"run_id"`
	Symbol             string          `json:"symbol"`
	Kind               string          `json:"kind"` // entry / threshold
	Allowed            bool            `json:"allowed"`
	Code               string          `json:"code"`
	Detail             string          `json:"detail"`
	Side               string          `json:"side,omitempty"`
	Notional           decimal.Decimal `json:"notional"`
	Quantity           decimal.Decimal `json:"quantity"`
	ReferencePrice     decimal.Decimal `json:"reference_price"`
	DerivedMinNotional decimal.Decimal `json:"derived_min_notional"`
	PnLPct             decimal.Decimal `json:"pnl_pct"`
	CreatedAt          time.Time       `json:"created_at"`
}

// CycleRecord 调度周期记录
type CycleRecord struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	CandleOpenTime int64     `json:"candle_open_time_ms"`
	Result         string    `json:"result"`
	Detail         string    `json:"detail"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
