package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrLockHeld 锁已被其他存活实例持有
var ErrLockHeld = errors.New("运行锁已被其他实例持有")

// HeldError 描述持有锁的实例
type HeldError struct {
	Resource string
	Owner    string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%v: %s (持有者: %s)", ErrLockHeld, e.Resource, e.Owner)
}

func (e *HeldError) Unwrap() error { return ErrLockHeld }

// InstanceLock 单实例锁，保证同一个状态文件只有一个进程在运行
type InstanceLock interface {
	// Acquire 立即返回，锁被占用时返回包装了 ErrLockHeld 的错误
	Acquire(ctx context.Context) error
	// Release 只释放自己持有的锁，可重复调用
	Release(ctx context.Context) error
}

// chainLock 按顺序获取多把锁，任一失败则回滚已获取的锁
type chainLock struct {
	locks []InstanceLock
}

// Chain 组合多把锁，释放时逆序
func Chain(locks ...InstanceLock) InstanceLock {
	return &chainLock{locks: locks}
}

func (c *chainLock) Acquire(ctx context.Context) error {
	for i, l := range c.locks {
		if err := l.Acquire(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.locks[j].Release(ctx)
			}
			return err
		}
	}
	return nil
}

func (c *chainLock) Release(ctx context.Context) error {
	var errs []error
	for i := len(c.locks) - 1; i >= 0; i-- {
		if err := c.locks[i].Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
