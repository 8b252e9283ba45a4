package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/event"
	"perpguard/exchange"
	"perpguard/logger"
	"perpguard/market"
	"perpguard/order"
	"perpguard/safety"
	"perpguard/state"
	"perpguard/storage"
	"perpguard/strategy"
	"perpguard/utils"
)

// 周期结果
const (
	CycleOK           = "ok"
	CycleSkipped      = "skipped"
	CycleDataError    = "data_error"
	CycleHalted       = "halted"
	CycleThreshold    = "threshold"
	CycleEntry        = "entry"
	CycleEntryBlocked = "entry_blocked"
	CycleClosed       = "closed"
	CycleOrderError   = "order_error"
	CycleKillSwitch   = "kill_switch"
)

// 平仓触发原因
const (
	ReasonStrategyExit   = "STRATEGY_EXIT"
	ReasonOppositeSignal = "OPPOSITE_SIGNAL"
)

// cycleError 需要计入错误窗口的周期错误
type cycleError struct {
	result string
	err    error
}

func (e *cycleError) Error() string { return fmt.Sprintf("%s: %v", e.result, e.err) }

func (e *cycleError) Unwrap() error { return e.err }

func countable(result string, err error) *cycleError {
	return &cycleError{result: result, err: err}
}

// RunCycle 执行一个调度周期：拉取K线 → 门控 → 阈值检查 → 策略 → 开/平仓 → 保存状态
// 只有错误窗口超限时返回 *FatalRepeatedErrorsError，其他错误在周期内消化
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()
	e.st.LastLoopStartedAt = &start

	candleOpen, result, detail, err := e.dispatch(ctx, start)

	var ce *cycleError
	if errors.As(err, &ce) {
		result = ce.result
		detail = ce.err.Error()
		logger.Warn("⚠️ [周期] %s 跳过本周期: %v", e.symbol, ce.err)
		e.publish(event.EventTypeDataError, map[string]interface{}{"symbol": e.symbol, "reason": detail})
	}

	e.saveState()

	elapsed := e.now().Sub(start)
	e.pm.RecordCycle(e.symbol, result, elapsed)
	e.journal.RecordCycle(&storage.CycleRecord{
		Symbol:         e.symbol,
		CandleOpenTime: candleOpen,
		Result:         result,
		Detail:         detail,
		DurationMs:     elapsed.Milliseconds(),
	})

	exceeded := ce != nil && e.errWindow.Record(start)
	count := e.errWindow.Count(start)
	e.pm.SetRepeatedErrors(e.symbol, count)
	e.setCycleStatus(start, result, detail, count)
	if exceeded {
		return &FatalRepeatedErrorsError{
			Count:  count,
			Window: time.Duration(e.cfg.Ops.RepeatedErrorWindowSeconds) * time.Second,
			Last:   ce.err,
		}
	}
	return nil
}

// dispatch 返回本周期K线开盘时间、结果和说明；*cycleError 表示需要计数的跳过
func (e *Engine) dispatch(ctx context.Context, now time.Time) (int64, string, string, error) {
	nowMs := now.UnixMilli()

	cctx, cancel := e.callCtx(ctx)
	candles, err := e.ex.GetCandles(cctx, e.symbol, e.timeframe, e.cfg.Strategy.HistoryCandles)
	cancel()
	if err != nil {
		return 0, "", "", countable(CycleDataError, fmt.Errorf("获取K线失败: %w", err))
	}

	latest := market.LatestClosed(candles, nowMs)
	decision := e.gate.Accept(latest, e.st.LastCandleOpenTimeMs)
	if !decision.Accepted {
		var openTime int64
		if latest != nil {
			openTime = latest.OpenTime
		}
		return openTime, "", "", countable(CycleSkipped, fmt.Errorf("K线被门控拒绝: %s", decision.Reason))
	}
	e.st.LastCandleOpenTimeMs = latest.OpenTime
	logger.Info("📊 [周期] %s %s K线 %s 收盘 %.4f",
		e.symbol, e.timeframe, utils.FromMillis(latest.OpenTime).Format(time.RFC3339), latest.Close)

	e.strat.Update(market.ClosedOnly(candles, nowMs))
	killSwitch := e.killSwitch.Enabled()

	// 阈值检查先于策略平仓信号
	equity, eqErr := e.fetchEquity(ctx)
	if eqErr != nil {
		logger.Warn("⚠️ [周期] 获取账户权益失败: %v", eqErr)
	} else if !e.st.BaselineEquityUSDT.Valid && equity.Valid && equity.Decimal.IsPositive() {
		// 启动时未能记录基准
		e.st.BaselineEquityUSDT = equity
		logger.Info("✅ [周期] 补记基准权益: %s USDT", equity.Decimal.StringFixed(2))
	}
	td := e.thresholds.Evaluate(equity, e.st.BaselineEquityUSDT)
	e.recordThreshold(td, equity)

	switch {
	case td.Triggered && e.st.Halted:
		// 停机后不再发起新的平仓序列，也不覆盖停机原因
		logger.Warn("🛑 [阈值] %s 已停机 (%s)，%s 不再触发平仓", e.symbol, e.st.HaltReason, td.Code)
		return latest.OpenTime, CycleHalted, e.st.HaltReason, nil
	case td.Triggered:
		return latest.OpenTime, CycleThreshold, td.Code, e.handleThreshold(ctx, td, killSwitch)
	case td.Action == safety.ActionHalt:
		// 单次读数异常不直接停机，按数据错误计数
		return latest.OpenTime, "", "", countable(CycleDataError, fmt.Errorf("%s: %s", td.Code, td.Detail))
	case td.Code != safety.CodeOK:
		logger.Warn("⚠️ [阈值] %s: %s (fail_closed 未开启，继续)", td.Code, td.Detail)
	}

	if e.st.Halted {
		logger.Warn("🛑 [周期] %s 已停机 (%s)，跳过交易", e.symbol, e.st.HaltReason)
		return latest.OpenTime, CycleHalted, e.st.HaltReason, nil
	}

	result, detail := CycleOK, ""
	mc := strategy.MarketContext{
		Price:  decimal.NewFromFloat(latest.Close),
		Candle: latest,
		Now:    now,
	}

	if pos := e.st.OpenPosition; pos != nil {
		if exit := e.strat.CheckExit(pos, mc); exit != nil && exit.Action == strategy.ActionClose {
			logger.Info("📉 [策略] %s 平仓信号: %s", e.strat.Name(), exit.Reason)
			if killSwitch {
				logger.Warn("🛑 [周期] 紧急开关已开启，忽略策略平仓信号")
				return latest.OpenTime, CycleKillSwitch, ReasonStrategyExit, nil
			}
			res := e.closePosition(ctx, e.st.OpenPosition, ReasonStrategyExit)
			result, detail = CycleClosed, res.Outcome
			if !res.Success() {
				return latest.OpenTime, result, detail, nil
			}
		}
	}

	sig := e.strat.GetSignal()
	if sig == nil {
		return latest.OpenTime, result, detail, nil
	}
	logger.Info("📈 [策略] %s 信号: %s (%s)", e.strat.Name(), sig.Side, sig.Reason)

	if pos := e.st.OpenPosition; pos != nil {
		if !strategy.ShouldCloseOnOpposite(pos, sig) {
			logger.Info("ℹ️ [周期] 已有同向持仓 %s，忽略信号", describePosition(pos))
			return latest.OpenTime, result, detail, nil
		}
		if killSwitch {
			logger.Warn("🛑 [周期] 紧急开关已开启，忽略反向信号")
			return latest.OpenTime, CycleKillSwitch, ReasonOppositeSignal, nil
		}
		res := e.closePosition(ctx, pos, ReasonOppositeSignal)
		if !res.Success() {
			return latest.OpenTime, CycleClosed, res.Outcome, nil
		}
	}

	result, detail, err = e.enter(ctx, sig, equity, killSwitch)
	return latest.OpenTime, result, detail, err
}

// handleThreshold 平仓后停机；紧急开关开启时只停机不下单
func (e *Engine) handleThreshold(ctx context.Context, td safety.ThresholdDecision, killSwitch bool) error {
	e.pm.RecordThresholdTrigger(e.symbol, td.Code)
	logger.Error("🚨 [阈值] %s 触发 %s: %s", e.symbol, td.Code, td.Detail)
	e.publish(event.EventTypeThresholdHit, map[string]interface{}{
		"symbol":  e.symbol,
		"reason":  td.Code,
		"pnl_pct": td.PnLPct.StringFixed(2),
	})

	if killSwitch {
		logger.Warn("🛑 [阈值] 紧急开关已开启，跳过平仓，仅停机")
		e.halt(td.Code)
		return nil
	}

	res, err := e.closer.FlattenAll(ctx, e.st, e.symbol, td.Code)
	if err != nil {
		logger.Warn("⚠️ [阈值] 查询交易所持仓失败，按本地持仓平仓: %v", err)
		res = e.closer.Close(ctx, e.st, order.CloseRequest{Symbol: e.symbol, Position: e.st.OpenPosition, Reason: td.Code})
	}
	e.reportClose(res, td.Code)
	if ctx.Err() == nil {
		e.halt(td.Code)
	}
	return nil
}

// enter 开仓：风控放行后下市价单，并用交易所持仓更新本地状态
func (e *Engine) enter(ctx context.Context, sig *strategy.Signal, equity decimal.NullDecimal, killSwitch bool) (string, string, error) {
	// 策略未给金额时用配置金额，两者都没有时由闸门按权益推算
	amount := sig.AmountUSDT
	if !amount.Valid && e.cfg.Trading.OrderSizeUSDT > 0 {
		amount = decimal.NewNullDecimal(decimal.NewFromFloat(e.cfg.Trading.OrderSizeUSDT))
	}

	ec := safety.EntryContext{
		Side:       sig.Side,
		KillSwitch: killSwitch,
		Halted:     e.st.Halted,
		AmountUSDT: amount,
		Equity:     equity,
		Leverage:   e.cfg.Trading.Leverage,
	}
	cctx, cancel := e.callCtx(ctx)
	if t, err := e.ex.GetTicker(cctx, e.symbol); err == nil {
		ec.Ticker = t
	} else {
		logger.Warn("⚠️ [开仓] 获取行情失败: %v", err)
	}
	if l, err := e.ex.GetMarketLimits(cctx, e.symbol); err == nil {
		ec.Limits = l
	} else {
		logger.Warn("⚠️ [开仓] 获取合约限制失败: %v", err)
	}
	cancel()

	d := e.entryGate.CanEnter(ec)
	e.recordEntry(d)
	if !d.Allowed {
		e.pm.RecordRiskBlock(e.symbol, d.Code)
		logger.Warn("⛔ [风控] 拒绝开仓: %v", d.Err())
		e.publish(event.EventTypeRiskBlocked, map[string]interface{}{
			"symbol": e.symbol,
			"reason": d.Code,
			"detail": d.Detail,
		})
		return CycleEntryBlocked, d.Code, nil
	}

	res, err := e.executor.PlaceMarket(ctx, d.Side, d.Quantity, false, utils.IntentEntry)
	if err != nil {
		return "", "", countable(CycleOrderError, err)
	}
	e.publish(event.EventTypeOrderPlaced, map[string]interface{}{
		"symbol":          e.symbol,
		"side":            string(d.Side),
		"quantity":        d.Quantity.String(),
		"client_order_id": res.ClientOrderID,
		"status":          res.Status,
		"executed_qty":    res.ExecutedQty.String(),
	})

	if e.executor.DryRun() {
		e.st.OpenPosition = &exchange.Position{
			Symbol:     e.symbol,
			Side:       d.Side.PositionSide(),
			Quantity:   d.Quantity,
			EntryPrice: d.ReferencePrice,
		}
	} else {
		pos, perr := e.fetchPosition(ctx)
		switch {
		case perr == nil:
			e.st.OpenPosition = pos
		case res.ExecutedQty.IsPositive():
			logger.Warn("⚠️ [开仓] 查询持仓失败，按成交回报记录: %v", perr)
			e.st.OpenPosition = &exchange.Position{
				Symbol:     e.symbol,
				Side:       d.Side.PositionSide(),
				Quantity:   res.ExecutedQty,
				EntryPrice: res.AvgPrice,
			}
		default:
			logger.Warn("⚠️ [开仓] 查询持仓失败: %v", perr)
		}
	}
	e.recordPositionMetrics()

	logger.Info("✅ [开仓] %s %s %s @ %s (名义价值 %s USDT)",
		e.symbol, d.Side, d.Quantity, d.ReferencePrice, d.Notional.StringFixed(2))
	e.publish(event.EventTypePositionOpened, map[string]interface{}{
		"symbol":   e.symbol,
		"side":     string(d.Side),
		"quantity": d.Quantity.String(),
		"price":    d.ReferencePrice.String(),
		"dry_run":  e.executor.DryRun(),
	})
	return CycleEntry, string(d.Side), nil
}

func (e *Engine) recordEntry(d safety.EntryDecision) {
	e.journal.RecordRiskDecision(&storage.RiskDecisionRecord{
		Symbol:             e.symbol,
		Kind:               "entry",
		Allowed:            d.Allowed,
		Code:               d.Code,
		Detail:             d.Detail,
		Side:               string(d.Side),
		Notional:           d.Notional,
		Quantity:           d.Quantity,
		ReferencePrice:     d.ReferencePrice,
		DerivedMinNotional: d.DerivedMinNotional,
	})
}

func (e *Engine) recordThreshold(td safety.ThresholdDecision, equity decimal.NullDecimal) {
	if equity.Valid {
		eq, _ := equity.Decimal.Float64()
		pnl, _ := td.PnLPct.Float64()
		e.pm.SetEquity(e.symbol, eq, pnl)
	}
	e.mu.Lock()
	e.status.Equity = equity
	e.status.PnLPct = td.PnLPct
	e.mu.Unlock()

	// 正常读数只写 Debug，触发和异常才落库
	if td.Code == safety.CodeOK {
		logger.Debug("📊 [阈值] 收益率 %s%%", td.PnLPct.StringFixed(2))
		return
	}
	e.journal.RecordRiskDecision(&storage.RiskDecisionRecord{
		Symbol:  e.symbol,
		Kind:    "threshold",
		Allowed: !td.Triggered,
		Code:    td.Code,
		Detail:  td.Detail,
		PnLPct:  td.PnLPct,
	})
}

// pendingCloseOf 当前是否有未完成的平仓（供状态接口展示）
func pendingCloseOf(st *state.RuntimeState) string {
	if st == nil || !st.ClosePending() {
		return ""
	}
	return st.PendingCloseReason
}
