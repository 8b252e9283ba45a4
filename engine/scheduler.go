package engine

import (
	"context"
	"time"
)

// NextBoundary 下一个与周期对齐的整点（UTC，秒为 00）；now 恰好在整点上时返回 now
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	now = now.UTC()
	b := now.Truncate(interval)
	if b.Equal(now) {
		return now
	}
	return b.Add(interval)
}

// SecondsUntilNextRun 距离下一个周期整点的秒数
func SecondsUntilNextRun(intervalMinutes int, now time.Time) float64 {
	interval := time.Duration(intervalMinutes) * time.Minute
	return NextBoundary(now, interval).Sub(now.UTC()).Seconds()
}

// SecondsUntilDataFetch 距离拉取K线的秒数：整点之后再等待 bufferSeconds，确保上游K线已收盘
func SecondsUntilDataFetch(intervalMinutes, bufferSeconds int, now time.Time) float64 {
	return SecondsUntilNextRun(intervalMinutes, now) + float64(bufferSeconds)
}

// sleepCtx 可取消的等待
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
