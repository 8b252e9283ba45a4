package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *PrometheusMetrics

	// 调度指标
	cycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_cycle_total",
			Help: "Total number of scheduler cycles by result",
		},
		[]string{"symbol", "result"},
	)

	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpguard_cycle_duration_seconds",
			Help:    "Duration of the dispatch phase of a cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"symbol"},
	)

	repeatedErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpguard_repeated_errors",
			Help: "Errors counted inside the repeated-error window",
		},
		[]string{"symbol"},
	)

	// 风控指标
	riskBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_risk_block_total",
			Help: "Entry gate refusals by reason code",
		},
		[]string{"symbol", "code"},
	)

	thresholdTriggerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_threshold_trigger_total",
			Help: "Drawdown/profit threshold triggers",
		},
		[]string{"symbol", "reason"},
	)

	haltedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpguard_halted",
			Help: "1 when trading is halted",
		},
		[]string{"symbol"},
	)

	equityGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpguard_equity_usdt",
			Help: "Account equity in USDT",
		},
		[]string{"symbol"},
	)

	pnlPctGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpguard_pnl_pct",
			Help: "PnL percent relative to baseline equity",
		},
		[]string{"symbol"},
	)

	positionQtyGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpguard_position_quantity",
			Help: "Open position quantity, negative for short",
		},
		[]string{"symbol"},
	)

	// 订单与平仓指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_order_total",
			Help: "Total number of orders submitted",
		},
		[]string{"symbol", "side", "intent", "status"},
	)

	closeAttemptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_close_attempt_total",
			Help: "Close executor attempts by result",
		},
		[]string{"symbol", "result"},
	)

	closeOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpguard_close_outcome_total",
			Help: "Terminal close sequence outcomes",
		},
		[]string{"symbol", "outcome"},
	)

	// 交易所调用指标
	exchangeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpguard_exchange_call_duration_seconds",
			Help:    "Exchange API call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op", "status"},
	)

	// 进程指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpguard_goroutines",
			Help: "Number of goroutines",
		},
	)

	processRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpguard_process_rss_bytes",
			Help: "Resident set size of the process",
		},
	)

	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpguard_process_cpu_percent",
			Help: "CPU usage percent of the process",
		},
	)
)

// PrometheusMetrics 指标记录器
type PrometheusMetrics struct{}

// GetPrometheusMetrics 获取全局指标记录器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// RecordCycle 记录一次调度周期
func (pm *PrometheusMetrics) RecordCycle(symbol, result string, duration time.Duration) {
	cycleTotal.WithLabelValues(symbol, result).Inc()
	cycleDuration.WithLabelValues(symbol).Observe(duration.Seconds())
}

// SetRepeatedErrors 设置窗口内错误数
func (pm *PrometheusMetrics) SetRepeatedErrors(symbol string, count int) {
	repeatedErrors.WithLabelValues(symbol).Set(float64(count))
}

// RecordRiskBlock 记录开仓拦截
func (pm *PrometheusMetrics) RecordRiskBlock(symbol, code string) {
	riskBlockTotal.WithLabelValues(symbol, code).Inc()
}

// RecordThresholdTrigger 记录阈值触发
func (pm *PrometheusMetrics) RecordThresholdTrigger(symbol, reason string) {
	thresholdTriggerTotal.WithLabelValues(symbol, reason).Inc()
}

// SetHalted 设置停机状态
func (pm *PrometheusMetrics) SetHalted(symbol string, halted bool) {
	haltedGauge.WithLabelValues(symbol).Set(boolGauge(halted))
}

// SetEquity 设置权益和收益率
func (pm *PrometheusMetrics) SetEquity(symbol string, equity, pnlPct float64) {
	equityGauge.WithLabelValues(symbol).Set(equity)
	pnlPctGauge.WithLabelValues(symbol).Set(pnlPct)
}

// SetPositionQuantity 设置持仓数量
func (pm *PrometheusMetrics) SetPositionQuantity(symbol string, qty float64) {
	positionQtyGauge.WithLabelValues(symbol).Set(qty)
}

// RecordOrder 记录订单
func (pm *PrometheusMetrics) RecordOrder(symbol, side, intent, status string) {
	orderTotal.WithLabelValues(symbol, side, intent, status).Inc()
}

// RecordCloseAttempt 记录平仓尝试
func (pm *PrometheusMetrics) RecordCloseAttempt(symbol, result string) {
	closeAttemptTotal.WithLabelValues(symbol, result).Inc()
}

// RecordCloseOutcome 记录平仓结果
func (pm *PrometheusMetrics) RecordCloseOutcome(symbol, outcome string) {
	closeOutcomeTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordExchangeCall 记录交易所调用
func (pm *PrometheusMetrics) RecordExchangeCall(op, status string, duration time.Duration) {
	exchangeCallDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetProcessStats 设置进程内存和CPU
func (pm *PrometheusMetrics) SetProcessStats(rss uint64, cpuPercent float64) {
	processRSSBytes.Set(float64(rss))
	processCPUPercent.Set(cpuPercent)
}
