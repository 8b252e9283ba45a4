package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats 进程资源快照
type ProcessStats struct {
	PID        int32     `json:"pid"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	proc     *process.Process

	mu   sync.RWMutex
	last ProcessStats
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	smc := &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
	}
	// 获取失败时只采集 goroutine 数量
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		smc.proc = p
	}
	return smc
}

// Run 采集循环，ctx 取消时退出
func (smc *SystemMetricsCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smc.collect(ctx)
		}
	}
}

// Snapshot 最近一次采集结果
func (smc *SystemMetricsCollector) Snapshot() ProcessStats {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	return smc.last
}

func (smc *SystemMetricsCollector) collect(ctx context.Context) {
	stats := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now().UTC(),
	}
	if smc.proc != nil {
		if mem, err := smc.proc.MemoryInfoWithContext(ctx); err == nil {
			stats.RSSBytes = mem.RSS
		}
		if cpu, err := smc.proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = cpu
		}
	}

	smc.pm.SetGoroutineCount(stats.Goroutines)
	smc.pm.SetProcessStats(stats.RSSBytes, stats.CPUPercent)

	smc.mu.Lock()
	smc.last = stats
	smc.mu.Unlock()
}
