package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"perpguard/config"
)

// NewInstanceLock 根据配置创建单实例锁
// 文件锁始终启用；lock.type 为 redis 时额外获取 Redis 锁
func NewInstanceLock(cfg *config.Config) (InstanceLock, func() error, error) {
	fileLock := NewFileLock(cfg.Ops.LockFile)

	switch cfg.Lock.Type {
	case "", "file":
		return fileLock, func() error { return nil }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		redisLock := NewRedisLock(client, RedisKey(cfg.Lock.Redis.Prefix, cfg.Ops.StateFile),
			time.Duration(cfg.Lock.Redis.TTLSeconds)*time.Second)
		return Chain(fileLock, redisLock), redisLock.Close, nil

	default:
		return nil, nil, fmt.Errorf("不支持的锁类型: %s", cfg.Lock.Type)
	}
}

// RedisKey 以状态文件的绝对路径作为锁名
func RedisKey(prefix, stateFile string) string {
	abs, err := filepath.Abs(stateFile)
	if err != nil {
		abs = stateFile
	}
	return prefix + abs
}
