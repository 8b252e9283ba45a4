package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"perpguard/logger"
	"perpguard/utils"
)

// lockWriteGrace 无法解析的锁文件在该时长内视为另一实例刚创建、尚未写完
const lockWriteGrace = 10 * time.Second

// lockInfo 锁文件内容
type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Command   string    `json:"command"`
}

// FileLock 基于锁文件的单实例锁
// 锁文件记录持有进程的 pid，持有进程已退出的锁视为过期并被接管
type FileLock struct {
	path string
	pid  int

	mu   sync.Mutex
	held bool

	// pidAlive 检查进程是否存活，测试时可替换
	pidAlive func(ctx context.Context, pid int32) (bool, error)
}

// NewFileLock 创建文件锁
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:     path,
		pid:      os.Getpid(),
		pidAlive: process.PidExistsWithContext,
	}
}

// Acquire 用 O_EXCL 创建锁文件；存在时检查持有进程是否存活
func (l *FileLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("创建锁目录失败: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			logger.Info("🔒 [运行锁] 已获取 %s (pid=%d)", l.path, l.pid)
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("创建锁文件失败: %w", err)
		}

		info, readErr := readLockInfo(l.path)
		if errors.Is(readErr, os.ErrNotExist) {
			continue
		}
		if readErr != nil {
			st, statErr := os.Stat(l.path)
			if statErr != nil && errors.Is(statErr, os.ErrNotExist) {
				continue
			}
			if statErr != nil || time.Since(st.ModTime()) < lockWriteGrace {
				return &HeldError{Resource: l.path, Owner: "unknown (锁文件不可读)"}
			}
			logger.Warn("⚠️ [运行锁] 锁文件无法解析且已超过 %v: %v", lockWriteGrace, readErr)
		}
		if readErr == nil && info.PID > 0 && info.PID != l.pid {
			alive, aliveErr := l.pidAlive(ctx, int32(info.PID))
			if aliveErr != nil {
				// 无法确认时按存活处理
				alive = true
			}
			if alive {
				return &HeldError{Resource: l.path, Owner: "pid=" + strconv.Itoa(info.PID)}
			}
		}

		logger.Warn("⚠️ [运行锁] 接管过期的锁文件 %s", l.path)
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("删除过期锁文件失败: %w", err)
		}
	}
	// 两次都在删除后被抢先创建
	return &HeldError{Resource: l.path, Owner: "unknown"}
}

func (l *FileLock) create() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	data, _ := json.MarshalIndent(lockInfo{
		PID:       l.pid,
		StartedAt: utils.NowUTC(),
		Command:   strings.Join(os.Args, " "),
	}, "", "  ")
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	return f.Close()
}

// Release 只删除 pid 与本进程一致的锁文件
func (l *FileLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	info, err := readLockInfo(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取锁文件失败: %w", err)
	}
	if info.PID != l.pid {
		logger.Warn("⚠️ [运行锁] 锁文件已被 pid=%d 持有，不删除", info.PID)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除锁文件失败: %w", err)
	}
	logger.Info("🔓 [运行锁] 已释放 %s", l.path)
	return nil
}

func readLockInfo(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("锁文件格式错误: %w", err)
	}
	return &info, nil
}
