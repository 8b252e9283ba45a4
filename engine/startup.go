package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/event"
	"perpguard/exchange"
	"perpguard/lock"
	"perpguard/logger"
	"perpguard/safety"
	"perpguard/state"
	"perpguard/storage"
)

// 启动对账采取的动作
const (
	actionNone         = "none"
	actionAdopt        = "adopt"
	actionHalt         = "halt"
	actionFlattenHalt  = "flatten_halt"
	actionResumeClose  = "resume_close"
	actionClearPending = "clear_pending"
	actionDeferClose   = "defer_close"
)

// Startup 加载状态、记录基准权益、与交易所对账并执行对账策略，调用前必须已持有运行锁
func (e *Engine) Startup(ctx context.Context) error {
	st, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("加载运行状态失败: %w", err)
	}
	e.st = st
	st.FatalReason = ""
	logger.Info("✅ [启动] 已加载运行状态 (停机=%v, 待办=%s, 持仓=%s)",
		st.Halted, st.PendingAction, describePosition(st.OpenPosition))

	if err := e.captureBaseline(ctx); err != nil {
		return err
	}

	remote, err := e.fetchPosition(ctx)
	if err != nil {
		return fmt.Errorf("查询交易所持仓失败，无法对账: %w", err)
	}

	if st.ClosePending() {
		remote, err = e.resumeClose(ctx, remote)
		if err != nil {
			return err
		}
	}

	e.reconcile(ctx, remote)
	e.saveState()
	e.recordPositionMetrics()
	return nil
}

// captureBaseline 基准权益为空或配置要求重置时记录当前权益
func (e *Engine) captureBaseline(ctx context.Context) error {
	if e.st.BaselineEquityUSDT.Valid && !e.cfg.Ops.ResetBaselineOnStart {
		logger.Info("ℹ️ [启动] 沿用基准权益 %s USDT", e.st.BaselineEquityUSDT.Decimal.StringFixed(2))
		return nil
	}

	equity, err := e.fetchEquity(ctx)
	if err != nil || !equity.Decimal.IsPositive() {
		if err == nil {
			err = fmt.Errorf("权益无效: %s", equity.Decimal)
		}
		if e.cfg.Risk.FailClosed {
			return fmt.Errorf("获取基准权益失败: %w", err)
		}
		logger.Warn("⚠️ [启动] 获取基准权益失败，阈值监控暂不可用: %v", err)
		return nil
	}
	e.st.BaselineEquityUSDT = equity
	logger.Info("✅ [启动] 基准权益: %s USDT", equity.Decimal.StringFixed(2))
	return nil
}

// resumeClose 上次进程退出时平仓序列未完成：交易所仍有持仓则继续平仓，否则直接结束
func (e *Engine) resumeClose(ctx context.Context, remote *exchange.Position) (*exchange.Position, error) {
	reason := e.st.PendingCloseReason
	if reason == "" {
		reason = state.CloseInProgress
	}

	if remote == nil {
		logger.Info("✅ [启动] 未完成的平仓 (%s) 已在交易所完成，清除待办", reason)
		e.st.OpenPosition = nil
		e.st.FinishClose(state.CloseSuccess)
		e.recordReconciliation(state.ReconcileResult{Status: state.ReconcileMatch}, actionClearPending)
		if haltsAfterClose(reason) && !e.st.Halted {
			e.halt(reason)
		}
		return nil, nil
	}

	if e.killSwitch.Enabled() {
		// 保留 CLOSE 待办，关闭紧急开关后的下次启动继续
		logger.Warn("🛑 [启动] 紧急开关已开启，暂缓未完成的平仓 (%s)", reason)
		e.recordReconciliation(state.Reconcile(e.st.OpenPosition, remote, e.tolerance()), actionDeferClose)
		if haltsAfterClose(reason) && !e.st.Halted {
			e.halt(reason)
		}
		return remote, nil
	}

	logger.Warn("🔁 [启动] 继续未完成的平仓 (%s)，已尝试 %d 次", reason, e.st.CloseAttemptCount)
	e.recordReconciliation(state.Reconcile(e.st.OpenPosition, remote, e.tolerance()), actionResumeClose)
	res := e.closePosition(ctx, remote, reason)
	if res.Outcome == state.CloseCancelled {
		return nil, ctx.Err()
	}
	if haltsAfterClose(reason) && !e.st.Halted {
		e.halt(reason)
	}

	remote, err := e.fetchPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("平仓后查询交易所持仓失败: %w", err)
	}
	return remote, nil
}

// haltsAfterClose 这些原因触发的平仓结束后必须停机
func haltsAfterClose(reason string) bool {
	switch reason {
	case safety.CodeMaxDrawdownHit, safety.CodeProfitTargetHit, state.HaltStartupMismatch:
		return true
	}
	return false
}

func (e *Engine) tolerance() decimal.Decimal {
	return decimal.NewFromFloat(e.cfg.Execution.PositionQtyTolerance)
}

// reconcile 以交易所持仓为准，按 startup_mismatch_policy 处理不一致
func (e *Engine) reconcile(ctx context.Context, remote *exchange.Position) {
	res := state.Reconcile(e.st.OpenPosition, remote, e.tolerance())
	if res.Matched() {
		logger.Info("✅ [对账] 本地持仓与交易所一致: %s", describePosition(remote))
		e.recordReconciliation(res, actionNone)
		return
	}

	mismatch := res.Err()
	policy := e.cfg.Ops.StartupMismatchPolicy
	logger.Warn("⚠️ [对账] %v，策略: %s", mismatch, policy)
	e.publish(event.EventTypeStartupMismatch, map[string]interface{}{
		"symbol": e.symbol,
		"status": string(res.Status),
		"policy": policy,
		"local":  describePosition(res.Local),
		"remote": describePosition(res.Remote),
	})

	e.st.AdoptRemote(remote)

	switch policy {
	case config.PolicyHaltOnly:
		e.recordReconciliation(res, actionHalt)
		e.halt(state.HaltStartupMismatch)

	case config.PolicyAutoFlattenHalt:
		e.recordReconciliation(res, actionFlattenHalt)
		if remote != nil {
			if e.killSwitch.Enabled() {
				logger.Warn("🛑 [对账] 紧急开关已开启，跳过自动平仓")
			} else {
				e.closePosition(ctx, remote, state.HaltStartupMismatch)
			}
		}
		e.halt(state.HaltStartupMismatch)

	default:
		e.recordReconciliation(res, actionAdopt)
		logger.Info("✅ [对账] 已采用交易所持仓: %s", describePosition(remote))
	}
}

func (e *Engine) recordReconciliation(res state.ReconcileResult, action string) {
	h := &storage.ReconciliationHistory{
		Symbol: e.symbol,
		Status: string(res.Status),
		Policy: e.cfg.Ops.StartupMismatchPolicy,
		Action: action,
	}
	if res.Local != nil {
		h.LocalSide, h.LocalQty = string(res.Local.Side), res.Local.Quantity
	}
	if res.Remote != nil {
		h.RemoteSide, h.RemoteQty = string(res.Remote.Side), res.Remote.Quantity
	}
	e.journal.RecordReconciliation(h)
}

func describePosition(p *exchange.Position) string {
	if p == nil {
		return "空仓"
	}
	return fmt.Sprintf("%s %s@%s", p.Side, p.Quantity, p.EntryPrice)
}

// ClearHalt 维护模式：持有运行锁时清除停机标记
func ClearHalt(ctx context.Context, store StateStore, instanceLock lock.InstanceLock) error {
	if err := instanceLock.Acquire(ctx); err != nil {
		return &LockError{Err: err}
	}
	defer instanceLock.Release(context.Background())

	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("加载运行状态失败: %w", err)
	}
	if !st.Halted {
		logger.Info("ℹ️ 当前未停机，无需清除")
		return nil
	}
	logger.Warn("🔓 清除停机标记 (原因: %s)", st.HaltReason)
	st.ClearHalt()
	if err := store.Save(st); err != nil {
		return fmt.Errorf("保存运行状态失败: %w", err)
	}
	return nil
}
