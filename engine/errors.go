package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpguard/lock"
)

// 进程退出码
const (
	ExitClean          = 0
	ExitStartupFailure = 1
	ExitRepeatedErrors = 2
	ExitLockFailure    = 3
)

// FatalRepeatedErrorsError 窗口内错误次数超过上限
type FatalRepeatedErrorsError struct {
	Count  int
	Window time.Duration
	Last   error
}

func (e *FatalRepeatedErrorsError) Error() string {
	return fmt.Sprintf("%v 内连续出错 %d 次，最后一次: %v", e.Window, e.Count, e.Last)
}

func (e *FatalRepeatedErrorsError) Unwrap() error { return e.Last }

// LockError 获取单实例锁失败
type LockError struct {
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("获取运行锁失败: %v", e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// ExitCode 将 Run 返回的错误映射为进程退出码
func ExitCode(err error) int {
	var fatal *FatalRepeatedErrorsError
	var lockErr *LockError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitClean
	case errors.As(err, &fatal):
		return ExitRepeatedErrors
	case errors.As(err, &lockErr), errors.Is(err, lock.ErrLockHeld):
		return ExitLockFailure
	default:
		return ExitStartupFailure
	}
}

// ErrorWindow 滑动窗口错误计数，只依赖传入的时间戳
type ErrorWindow struct {
	max    int
	window time.Duration
	stamps []time.Time
}

// NewErrorWindow 创建错误窗口
func NewErrorWindow(maxErrors int, window time.Duration) *ErrorWindow {
	return &ErrorWindow{max: maxErrors, window: window}
}

// Record 记录一次错误，窗口内错误数超过上限时返回 true
func (w *ErrorWindow) Record(now time.Time) bool {
	w.stamps = append(w.stamps, now)
	w.prune(now)
	return len(w.stamps) > w.max
}

// Count 窗口内的错误数
func (w *ErrorWindow) Count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

func (w *ErrorWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}
