package state

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpguard/exchange"
)

// ReconcileStatus 对账结果分类
type ReconcileStatus string

const (
	ReconcileMatch                 ReconcileStatus = "match"
	ReconcileMismatchSize          ReconcileStatus = "mismatch_size"
	ReconcileMismatchMissingLocal  ReconcileStatus = "mismatch_missing_local"
	ReconcileMismatchMissingRemote ReconcileStatus = "mismatch_missing_remote"
)

// ReconcileResult 启动对账结果
type ReconcileResult struct {
	Status ReconcileStatus
	Local  *exchange.Position
	Remote *exchange.Position
}

// Matched 本地与交易所一致
func (r ReconcileResult) Matched() bool {
	return r.Status == ReconcileMatch
}

// Err 不一致时返回 *ReconcileMismatchError
func (r ReconcileResult) Err() error {
	if r.Matched() {
		return nil
	}
	return &ReconcileMismatchError{Result: r}
}

// ReconcileMismatchError 启动时本地持仓与交易所不一致，只在启动流程内处理
type ReconcileMismatchError struct {
	Result ReconcileResult
}

func (e *ReconcileMismatchError) Error() string {
	return fmt.Sprintf("持仓对账不一致: %s (本地=%s, 交易所=%s)",
		e.Result.Status, describe(e.Result.Local), describe(e.Result.Remote))
}

func describe(p *exchange.Position) string {
	if p == nil {
		return "空仓"
	}
	return fmt.Sprintf("%s %s@%s", p.Side, p.Quantity, p.EntryPrice)
}

// Reconcile 比较本地持仓与交易所持仓，方向不同也归为 mismatch_size
func Reconcile(local, remote *exchange.Position, tolerance decimal.Decimal) ReconcileResult {
	res := ReconcileResult{Local: local.Clone(), Remote: remote.Clone()}
	switch {
	case local == nil && remote == nil:
		res.Status = ReconcileMatch
	case local == nil:
		res.Status = ReconcileMismatchMissingLocal
	case remote == nil:
		res.Status = ReconcileMismatchMissingRemote
	case local.Side != remote.Side:
		res.Status = ReconcileMismatchSize
	case local.Quantity.Sub(remote.Quantity).Abs().GreaterThan(tolerance):
		res.Status = ReconcileMismatchSize
	default:
		res.Status = ReconcileMatch
	}
	return res
}

// AdoptRemote 以交易所持仓为准覆盖本地持仓
func (s *RuntimeState) AdoptRemote(remote *exchange.Position) {
	s.OpenPosition = remote.Clone()
}
