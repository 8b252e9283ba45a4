package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "runtime.lock")
	l := NewFileLock(path)

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}
	info, err := readLockInfo(path)
	if err != nil {
		t.Fatalf("读取锁文件失败: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("锁文件 pid 错误: %d", info.PID)
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("释放后锁文件应被删除")
	}
	if err := l.Release(ctx); err != nil {
		t.Errorf("重复释放不应报错: %v", err)
	}
}

func TestFileLockTakesOverStaleLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runtime.lock")
	if err := os.WriteFile(path, []byte(`{"pid": 999999, "started_at": "2024-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewFileLock(path)
	l.pidAlive = func(ctx context.Context, pid int32) (bool, error) { return false, nil }
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("应接管过期锁: %v", err)
	}
	info, _ := readLockInfo(path)
	if info == nil || info.PID != os.Getpid() {
		t.Errorf("锁文件应写入当前 pid: %+v", info)
	}
	l.Release(ctx)
}

func TestFileLockTakesOverCorruptLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	l := NewFileLock(path)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("损坏的锁文件应被接管: %v", err)
	}
	l.Release(context.Background())
}

func TestFileLockFreshUnreadableLockIsHeld(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"空文件", ""},
		{"写了一半", `{"pid": 12`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "runtime.lock")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			l := NewFileLock(path)
			err := l.Acquire(context.Background())
			if !errors.Is(err, ErrLockHeld) {
				t.Fatalf("刚创建的不可读锁文件应视为被持有, 得到 %v", err)
			}
			data, _ := os.ReadFile(path)
			if string(data) != tt.content {
				t.Errorf("不应删除或改写他人的锁文件, 内容变为 %q", data)
			}
		})
	}
}

func TestFileLockBlocksLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.lock")
	data, _ := json.Marshal(map[string]interface{}{"pid": 123456, "command": "perpguard"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewFileLock(path)
	l.pidAlive = func(ctx context.Context, pid int32) (bool, error) { return pid == 123456, nil }
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("期望 ErrLockHeld, 得到 %v", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.Owner != "pid=123456" {
		t.Errorf("持有者信息错误: %v", err)
	}

	// 释放未持有的锁不能删除别人的锁文件
	l.Release(context.Background())
	if _, err := os.Stat(path); err != nil {
		t.Error("不应删除其他进程的锁文件")
	}
}

func TestSecondInstanceFailsFast(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runtime.lock")

	first := NewFileLock(path)
	if err := first.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer first.Release(ctx)

	// 模拟另一个进程
	second := NewFileLock(path)
	second.pid = os.Getpid() + 100000
	if err := second.Acquire(ctx); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("第二个实例应失败, 得到 %v", err)
	}
}

type fakeLock struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (f *fakeLock) Acquire(ctx context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	return nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func TestChainRollsBackOnFailure(t *testing.T) {
	a := &fakeLock{}
	b := &fakeLock{acquireErr: &HeldError{Resource: "redis", Owner: "x"}}
	err := Chain(a, b).Acquire(context.Background())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("期望 ErrLockHeld, 得到 %v", err)
	}
	if !a.released {
		t.Error("第二把锁失败时应释放第一把锁")
	}
}

func TestRedisKeyUsesAbsolutePath(t *testing.T) {
	key := RedisKey("perpguard:lock:", "state/runtime_state.json")
	if !filepath.IsAbs(key[len("perpguard:lock:"):]) {
		t.Errorf("锁名应包含绝对路径: %s", key)
	}
}
