package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange"
	"perpguard/logger"
	"perpguard/metrics"
	"perpguard/state"
	"perpguard/storage"
	"perpguard/utils"
)

// StateSaver 状态持久化接口，由 state.Store 实现
type StateSaver interface {
	Save(st *state.RuntimeState) error
}

// CloseRequest 平仓请求
type CloseRequest struct {
	Symbol   string
	Position *exchange.Position
	Reason   string
}

// CloseResult 平仓序列结果
type CloseResult struct {
	Outcome   string
	Attempts  int // 本次调用发出的尝试次数
	Remaining decimal.Decimal
	Elapsed   time.Duration
	Flat      bool // 开始时已无持仓，未下单
}

// Success 持仓已清空（模拟平仓也算）
func (r CloseResult) Success() bool {
	return r.Outcome == state.CloseSuccess || r.Outcome == state.CloseDryRun
}

// Failed 需要按 fail_halt_on_close_failure 处理的失败结果
func (r CloseResult) Failed() bool {
	switch r.Outcome {
	case state.CloseTimeout, state.CloseNoProgress, state.CloseIncompleteThin:
		return true
	}
	return false
}

// Err 将失败结果转换为对应的错误类型
func (r CloseResult) Err() error {
	switch r.Outcome {
	case state.CloseNoProgress:
		return &CloseNoProgressError{Attempts: r.Attempts, Remaining: r.Remaining}
	case state.CloseTimeout:
		return &CloseTimeoutError{Attempts: r.Attempts, Remaining: r.Remaining}
	case state.CloseIncompleteThin:
		return &CloseThinBookError{Attempts: r.Attempts, Remaining: r.Remaining}
	case state.CloseCancelled:
		return context.Canceled
	}
	return nil
}

// CloseExecutor 只减仓的切片平仓执行器
// 每次尝试前检查终止条件，保证有限次数、有限时长内结束
type CloseExecutor struct {
	exchange exchange.IExchange
	executor *Executor
	cfg      *config.Config
	saver    StateSaver
	journal  Journal

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCloseExecutor 创建平仓执行器，journal 可以为 nil
func NewCloseExecutor(ex exchange.IExchange, executor *Executor, cfg *config.Config, saver StateSaver, journal Journal) *CloseExecutor {
	if journal == nil {
		journal = nopJournal{}
	}
	return &CloseExecutor{
		exchange: ex,
		executor: executor,
		cfg:      cfg,
		saver:    saver,
		journal:  journal,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// closeRun 单次平仓序列的运行时变量
type closeRun struct {
	req        CloseRequest
	side       exchange.Side
	closeSide  exchange.OrderSide
	initial    decimal.Decimal
	remaining  decimal.Decimal
	noProgress int
	attempts   int
	lastThin   bool
	start      time.Time
	limits     *exchange.MarketLimits
}

// FlattenAll 读取交易所持仓并全部平掉
func (ce *CloseExecutor) FlattenAll(ctx context.Context, st *state.RuntimeState, symbol, reason string) (CloseResult, error) {
	pctx, cancel := context.WithTimeout(ctx, time.Duration(ce.cfg.Execution.CallTimeoutSeconds)*time.Second)
	pos, err := ce.exchange.GetPosition(pctx, symbol)
	cancel()
	if err != nil {
		return CloseResult{}, err
	}
	return ce.Close(ctx, st, CloseRequest{Symbol: symbol, Position: pos, Reason: reason}), nil
}

// Close 执行平仓序列，每次尝试后都会保存状态
func (ce *CloseExecutor) Close(ctx context.Context, st *state.RuntimeState, req CloseRequest) CloseResult {
	e := &ce.cfg.Execution
	tol := decimal.NewFromFloat(e.PositionQtyTolerance)

	if req.Position == nil || !req.Position.Quantity.GreaterThan(tol) {
		logger.Info("ℹ️ [平仓] %s 无持仓，无需平仓 (原因: %s)", req.Symbol, req.Reason)
		st.OpenPosition = nil
		st.FinishClose(state.CloseSuccess)
		ce.save(st)
		return CloseResult{Outcome: state.CloseSuccess, Remaining: decimal.Zero, Flat: true}
	}

	run := &closeRun{
		req:       req,
		side:      req.Position.Side,
		closeSide: req.Position.Side.CloseSide(),
		initial:   req.Position.Quantity,
		remaining: req.Position.Quantity,
		start:     ce.now(),
	}
	st.OpenPosition = req.Position.Clone()

	if ce.executor.DryRun() {
		return ce.dryRunClose(ctx, st, run)
	}

	st.BeginClose(req.Reason)
	ce.save(st)
	logger.Warn("🔻 [平仓] 开始平仓 %s %s %s (原因: %s, 已尝试: %d)",
		req.Symbol, run.side, run.remaining, req.Reason, st.CloseAttemptCount)

	cctx, cancel := context.WithTimeout(ctx, seconds(e.CloseMaxDurationSeconds))
	defer cancel()

	if limits, err := ce.exchange.GetMarketLimits(cctx, req.Symbol); err == nil {
		run.limits = limits
	} else {
		logger.Warn("⚠️ [平仓] 获取合约精度失败，切片不做取整: %v", err)
	}

	for {
		if outcome, done := ce.guard(ctx, cctx, st, run); done {
			return ce.finish(st, run, outcome)
		}

		ce.attempt(cctx, st, run)

		if _, done := ce.guard(ctx, cctx, st, run); done {
			continue
		}
		wait := seconds(e.CloseRetryIntervalSeconds)
		if left := seconds(e.CloseMaxDurationSeconds) - ce.now().Sub(run.start); left < wait {
			wait = left
		}
		// 睡眠被打断时由下一轮 guard 判定结果
		_ = ce.sleep(cctx, wait)
	}
}

// guard 按顺序检查终止条件：取消、成功、无进展、次数上限、时长上限
func (ce *CloseExecutor) guard(parent, cctx context.Context, st *state.RuntimeState, run *closeRun) (string, bool) {
	e := &ce.cfg.Execution
	tol := decimal.NewFromFloat(e.PositionQtyTolerance)

	if parent.Err() != nil {
		return state.CloseCancelled, true
	}
	if !run.remaining.GreaterThan(tol) {
		return state.CloseSuccess, true
	}
	if run.noProgress >= e.CloseNoProgressRetries {
		return state.CloseNoProgress, true
	}
	if st.CloseAttemptCount >= e.CloseMaxRetries {
		if run.lastThin {
			return state.CloseIncompleteThin, true
		}
		return state.CloseTimeout, true
	}
	if ce.now().Sub(run.start) >= seconds(e.CloseMaxDurationSeconds) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return state.CloseTimeout, true
	}
	return "", false
}

// attempt 一次平仓尝试：读盘口、下单、重新读取持仓
func (ce *CloseExecutor) attempt(ctx context.Context, st *state.RuntimeState, run *closeRun) {
	e := &ce.cfg.Execution
	pm := metrics.GetPrometheusMetrics()
	tol := decimal.NewFromFloat(e.PositionQtyTolerance)
	symbol := run.req.Symbol

	st.CloseAttemptCount++
	run.attempts++
	attemptStart := ce.now()

	rec := &storage.CloseAttemptRecord{
		Symbol:       symbol,
		Reason:       run.req.Reason,
		AttemptIndex: st.CloseAttemptCount,
		Remaining:    run.remaining,
	}
	result := "order"

	book, err := ce.exchange.GetOrderBook(ctx, symbol, e.OrderbookLevels)
	switch {
	case err != nil || book == nil:
		// 订单簿缺失：本次不下单，按无进展处理
		run.lastThin = false
		result = "no_book"
		if err != nil {
			rec.Error = err.Error()
		}
		logger.Warn("⚠️ [平仓] 第 %d 次尝试获取订单簿失败: %v", st.CloseAttemptCount, err)

	default:
		inBand := InBandLiquidity(book, run.closeSide, decimal.NewFromFloat(e.MaxSlippageBps))
		rec.InBand = inBand
		run.lastThin = inBand.LessThan(run.remaining)
		if !inBand.IsPositive() {
			result = "empty_band"
			logger.Warn("⚠️ [平仓] 第 %d 次尝试: %s 方向 %.0f bps 内无挂单", st.CloseAttemptCount, run.closeSide, e.MaxSlippageBps)
			break
		}

		slice := SliceQty(run.remaining, inBand,
			decimal.NewFromFloat(e.LiquidityUsagePct), decimal.NewFromFloat(e.CloseMinSliceQty))
		if truncated := run.limits.TruncateQty(slice); truncated.IsPositive() {
			slice = truncated
		}
		rec.SliceQty = slice

		res, err := ce.executor.PlaceMarket(ctx, run.closeSide, slice, true, utils.IntentClose)
		switch {
		case err == nil:
			rec.ClientOrderID = res.ClientOrderID
		case IsReduceOnlyRejection(err):
			// 交易所认为已无可减仓位，以重新读取的持仓为准
			result = "reduce_only_rejected"
			rec.Error = err.Error()
			logger.Info("ℹ️ [平仓] 只减仓订单被拒，可能已无持仓，重新读取持仓")
		default:
			result = "order_error"
			rec.Error = err.Error()
			logger.Warn("⚠️ [平仓] 第 %d 次尝试下单失败: %v", st.CloseAttemptCount, err)
		}
	}

	// 以交易所持仓为准计算剩余数量
	newRemaining := run.remaining
	if pos, err := ce.exchange.GetPosition(ctx, symbol); err != nil {
		logger.Warn("⚠️ [平仓] 重新读取持仓失败: %v", err)
	} else if pos == nil || pos.Side != run.side {
		newRemaining = decimal.Zero
	} else {
		newRemaining = pos.Quantity
	}

	if run.remaining.Sub(newRemaining).GreaterThan(tol) {
		run.noProgress = 0
	} else {
		run.noProgress++
	}
	run.remaining = newRemaining
	rec.Remaining = newRemaining
	rec.ElapsedMs = ce.now().Sub(attemptStart).Milliseconds()

	now := utils.NowUTC()
	st.LastCloseAttemptAt = &now
	st.LastCloseReason = state.CloseInProgress
	if st.OpenPosition != nil {
		st.OpenPosition.Quantity = newRemaining
	}
	ce.save(st)

	ce.journal.RecordCloseAttempt(rec)
	pm.RecordCloseAttempt(symbol, result)
	logger.Info("🔁 [平仓] 第 %d 次尝试完成: 结果=%s 切片=%s 剩余=%s 无进展=%d",
		st.CloseAttemptCount, result, rec.SliceQty, newRemaining, run.noProgress)
}

// dryRunClose 模拟模式：一次模拟平仓后直接清空本地持仓
func (ce *CloseExecutor) dryRunClose(ctx context.Context, st *state.RuntimeState, run *closeRun) CloseResult {
	if _, err := ce.executor.PlaceMarket(ctx, run.closeSide, run.remaining, true, utils.IntentClose); err != nil {
		logger.Warn("⚠️ [平仓] 模拟平仓记录失败: %v", err)
	}
	run.remaining = decimal.Zero
	return ce.finish(st, run, state.CloseDryRun)
}

// finish 写入最终结果；取消时保留 CLOSE 待办，下次启动继续
func (ce *CloseExecutor) finish(st *state.RuntimeState, run *closeRun, outcome string) CloseResult {
	res := CloseResult{
		Outcome:   outcome,
		Attempts:  run.attempts,
		Remaining: run.remaining,
		Elapsed:   ce.now().Sub(run.start),
	}

	if outcome == state.CloseCancelled {
		st.LastCloseReason = outcome
	} else {
		st.FinishClose(outcome)
	}
	if res.Success() {
		st.OpenPosition = nil
	}
	if res.Failed() && ce.cfg.Execution.FailHaltOnCloseFailure {
		st.Halt(outcome)
	}
	ce.save(st)

	ce.journal.RecordCloseSequence(&storage.CloseSequenceRecord{
		Symbol:     run.req.Symbol,
		Reason:     run.req.Reason,
		Outcome:    outcome,
		Attempts:   run.attempts,
		InitialQty: run.initial,
		Remaining:  run.remaining,
		DurationMs: res.Elapsed.Milliseconds(),
		DryRun:     ce.executor.DryRun(),
	})
	metrics.GetPrometheusMetrics().RecordCloseOutcome(run.req.Symbol, outcome)

	if res.Success() {
		logger.Info("✅ [平仓] %s 平仓完成: %s (尝试 %d 次, 耗时 %v)", run.req.Symbol, outcome, res.Attempts, res.Elapsed)
	} else {
		logger.Error("❌ [平仓] %s 平仓终止: %s (尝试 %d 次, 剩余 %s, 耗时 %v)",
			run.req.Symbol, outcome, res.Attempts, res.Remaining, res.Elapsed)
	}
	return res
}

func (ce *CloseExecutor) save(st *state.RuntimeState) {
	if ce.saver == nil {
		return
	}
	if err := ce.saver.Save(st); err != nil {
		logger.Error("❌ [平仓] 保存状态失败: %v", err)
	}
}
