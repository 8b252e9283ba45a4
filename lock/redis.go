package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"perpguard/logger"
)

const (
	// 只有持有锁的实例才能释放
	unlockScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	// 只有持有锁的实例才能延期
	extendScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// RedisLock Redis 单实例锁，用于多台主机共享同一状态目录的部署
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
	stop  chan struct{}
	done  chan struct{}
}

// NewRedisLock 创建 Redis 锁，key 一般由状态文件路径派生
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Acquire SetNX 获取锁，成功后后台定期续期
func (r *RedisLock) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" {
		return nil
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx 失败: %w", err)
	}
	if !ok {
		owner, _ := r.client.Get(ctx, r.key).Result()
		return &HeldError{Resource: r.key, Owner: owner}
	}

	r.token = token
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.keepAlive(token, r.stop, r.done)
	logger.Info("🔒 [Redis锁] 已获取 %s", r.key)
	return nil
}

// keepAlive 每 ttl/3 续期一次
func (r *RedisLock) keepAlive(token string, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			if err := r.extend(ctx, token); err != nil {
				logger.Error("❌ [Redis锁] 续期失败: %v", err)
			}
			cancel()
		}
	}
}

func (r *RedisLock) extend(ctx context.Context, token string) error {
	result, err := r.client.Eval(ctx, extendScript, []string{r.key}, token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis eval 失败: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("锁已失效: %s", r.key)
	}
	return nil
}

// Release 停止续期并释放锁
func (r *RedisLock) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token == "" {
		return nil
	}
	close(r.stop)
	<-r.done

	token := r.token
	r.token = ""
	result, err := r.client.Eval(ctx, unlockScript, []string{r.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis eval 失败: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("锁未持有或已过期: %s", r.key)
	}
	logger.Info("🔓 [Redis锁] 已释放 %s", r.key)
	return nil
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
