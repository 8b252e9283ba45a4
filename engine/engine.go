// Package engine 调度周期、启动对账和进程生命周期
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/event"
	"perpguard/exchange"
	"perpguard/lock"
	"perpguard/logger"
	"perpguard/market"
	"perpguard/metrics"
	"perpguard/order"
	"perpguard/safety"
	"perpguard/state"
	"perpguard/storage"
	"perpguard/strategy"
	"perpguard/utils"
)

// StateStore 状态读写
type StateStore interface {
	Load() (*state.RuntimeState, error)
	Save(st *state.RuntimeState) error
}

// Journal 审计记录，*storage.StorageService 实现了该接口
type Journal interface {
	order.Journal
	RecordReconciliation(h *storage.ReconciliationHistory)
	RecordRiskDecision(r *storage.RiskDecisionRecord)
	RecordCycle(c *storage.CycleRecord)
}

type nopJournal struct{}

func (nopJournal) RecordOrder(*storage.OrderRecord) {}
func (nopJournal) RecordCloseAttempt(*storage.CloseAttemptRecord) {}
func (nopJournal) RecordCloseSequence(*storage.CloseSequenceRecord) {}
func (nopJournal) RecordReconciliation(*storage.ReconciliationHistory) {}
func (nopJournal) RecordRiskDecision(*storage.RiskDecisionRecord) {}
func (nopJournal) RecordCycle(*storage.CycleRecord) {}

// Deps 引擎依赖，Journal/Events/KillSwitch 可以为空
type Deps struct {
	Exchange   exchange.IExchange
	Strategy   strategy.Strategy
	Store      StateStore
	Lock       lock.InstanceLock
	Journal    Journal
	Events     *event.EventBus
	KillSwitch *config.KillSwitch
	RunID      string
}

// Engine 单线程驱动启动流程和调度周期，运行状态只在该线程内修改
type Engine struct {
	cfg        *config.Config
	symbol     string
	timeframe  string
	ex         exchange.IExchange
	strat      strategy.Strategy
	store      StateStore
	lock       lock.InstanceLock
	journal    Journal
	events     *event.EventBus
	killSwitch *config.KillSwitch
	runID      string

	gate       *market.Gate
	entryGate  *safety.EntryGate
	thresholds *safety.ThresholdMonitor
	executor   *order.Executor
	closer     *order.CloseExecutor
	errWindow  *ErrorWindow
	pm         *metrics.PrometheusMetrics

	st *state.RuntimeState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	status Status
}

// New 创建引擎
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Exchange == nil || deps.Strategy == nil || deps.Store == nil || deps.Lock == nil {
		return nil, fmt.Errorf("引擎依赖不完整: exchange/strategy/store/lock 不能为空")
	}
	timeframe, err := config.Timeframe(cfg.Trading.IntervalMinutes)
	if err != nil {
		return nil, err
	}

	journal := deps.Journal
	if journal == nil {
		journal = nopJournal{}
	}
	killSwitch := deps.KillSwitch
	if killSwitch == nil {
		killSwitch = config.NewKillSwitch(cfg.Risk.KillSwitch)
	}
	runID := deps.RunID
	if runID == "" {
		runID = utils.NewRunID()
	}

	e := &Engine{
		cfg:        cfg,
		symbol:     cfg.Trading.Symbol,
		timeframe:  timeframe,
		ex:         deps.Exchange,
		strat:      deps.Strategy,
		store:      deps.Store,
		lock:       deps.Lock,
		journal:    journal,
		events:     deps.Events,
		killSwitch: killSwitch,
		runID:      runID,
		gate:       market.NewGate(),
		entryGate:  safety.NewEntryGate(cfg),
		thresholds: safety.NewThresholdMonitor(cfg),
		errWindow: NewErrorWindow(cfg.Ops.MaxRepeatedErrors,
			time.Duration(cfg.Ops.RepeatedErrorWindowSeconds)*time.Second),
		pm:    metrics.GetPrometheusMetrics(),
		now:   utils.NowUTC,
		sleep: sleepCtx,
	}
	e.executor = order.NewExecutor(deps.Exchange, e.symbol, cfg.Execution.OrdersPerSecond, cfg.App.DryRun, journal)
	e.closer = order.NewCloseExecutor(deps.Exchange, e.executor, cfg, deps.Store, journal)
	e.status = Status{
		RunID:    runID,
		Symbol:   e.symbol,
		Strategy: deps.Strategy.Name(),
		Exchange: deps.Exchange.GetName(),
		DryRun:   cfg.App.DryRun,
	}
	return e, nil
}

// Run 获取锁、执行启动流程，然后按周期循环直到 ctx 取消或出现致命错误
func (e *Engine) Run(ctx context.Context) error {
	if err := e.lock.Acquire(ctx); err != nil {
		logger.Error("❌ [启动] 获取运行锁失败: %v", err)
		return &LockError{Err: err}
	}
	defer func() {
		if err := e.lock.Release(context.Background()); err != nil {
			logger.Warn("⚠️ 释放运行锁失败: %v", err)
		}
	}()

	if err := e.Startup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	e.publish(event.EventTypeSystemStart, map[string]interface{}{
		"symbol":   e.symbol,
		"strategy": e.strat.Name(),
		"dry_run":  e.cfg.App.DryRun,
		"halted":   e.st.Halted,
	})

	for {
		if ctx.Err() != nil {
			break
		}

		wait := time.Duration(SecondsUntilDataFetch(e.cfg.Trading.IntervalMinutes, e.cfg.Ops.DataCloseBufferSeconds, e.now()) * float64(time.Second))
		logger.Debug("⏳ 等待 %v 后拉取K线", wait.Round(time.Millisecond))
		if err := e.sleep(ctx, wait); err != nil {
			break
		}

		if err := e.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return e.fatal(err)
		}
	}

	logger.Info("🛑 收到停止信号，引擎退出")
	e.publish(event.EventTypeSystemStop, map[string]interface{}{"symbol": e.symbol})
	return nil
}

// fatal 退出前把原因写入状态文件并告警
func (e *Engine) fatal(err error) error {
	logger.Error("❌ [致命] %v", err)
	e.st.FatalReason = err.Error()
	e.saveState()
	e.publish(event.EventTypeFatal, map[string]interface{}{
		"symbol": e.symbol,
		"reason": err.Error(),
	})
	return err
}

// State 当前运行状态（只在引擎线程内使用）
func (e *Engine) State() *state.RuntimeState {
	return e.st
}

// KillSwitch 紧急开关
func (e *Engine) KillSwitch() *config.KillSwitch {
	return e.killSwitch
}

func (e *Engine) saveState() {
	if err := e.store.Save(e.st); err != nil {
		logger.Error("❌ 保存运行状态失败: %v", err)
	}
	e.publishStatus()
}

func (e *Engine) publish(t event.EventType, data map[string]interface{}) {
	e.events.Publish(&event.Event{Type: t, Data: data})
}

// callCtx 单次交易所调用的超时
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(e.cfg.Execution.CallTimeoutSeconds)*time.Second)
}

func (e *Engine) fetchPosition(ctx context.Context) (*exchange.Position, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.ex.GetPosition(cctx, e.symbol)
}

func (e *Engine) fetchEquity(ctx context.Context) (decimal.NullDecimal, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	summary, err := e.ex.GetAccountSummary(cctx)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if summary == nil {
		return decimal.NullDecimal{}, exchange.NewDataUnavailable("get_account_summary", e.symbol, "账户摘要为空")
	}
	return decimal.NewNullDecimal(summary.Equity), nil
}

// closePosition 执行平仓序列，返回结果；持仓为空时直接成功
func (e *Engine) closePosition(ctx context.Context, pos *exchange.Position, reason string) order.CloseResult {
	res := e.closer.Close(ctx, e.st, order.CloseRequest{Symbol: e.symbol, Position: pos, Reason: reason})
	e.reportClose(res, reason)
	return res
}

// reportClose 更新持仓指标并发布平仓结果，开始时已空仓则不通知
func (e *Engine) reportClose(res order.CloseResult, reason string) {
	e.recordPositionMetrics()
	if res.Flat {
		return
	}

	data := map[string]interface{}{
		"symbol":    e.symbol,
		"reason":    reason,
		"outcome":   res.Outcome,
		"attempts":  res.Attempts,
		"remaining": res.Remaining.String(),
	}
	switch {
	case res.Success():
		e.publish(event.EventTypePositionClosed, data)
	case res.Failed():
		e.publish(event.EventTypeCloseFailed, data)
	}
}

// halt 停机；已停机时保留最早的原因
func (e *Engine) halt(reason string) {
	e.st.Halt(reason)
	e.pm.SetHalted(e.symbol, true)
	if e.st.HaltReason != reason {
		logger.Error("🛑 [停机] %s 交易已停机: %s (触发: %s)", e.symbol, e.st.HaltReason, reason)
	} else {
		logger.Error("🛑 [停机] %s 交易已停机: %s", e.symbol, reason)
	}
	e.publish(event.EventTypeHalted, map[string]interface{}{
		"symbol":  e.symbol,
		"reason":  e.st.HaltReason,
		"trigger": reason,
	})
}

func (e *Engine) recordPositionMetrics() {
	qty := 0.0
	if p := e.st.OpenPosition; p != nil {
		qty, _ = p.Quantity.Float64()
		if p.Side == exchange.SideShort {
			qty = -qty
		}
	}
	e.pm.SetPositionQuantity(e.symbol, qty)
	e.pm.SetHalted(e.symbol, e.st.Halted)
}
