package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"perpguard/logger"
)

// KillSwitch 可热更新的紧急开关
type KillSwitch struct {
	v atomic.Bool
}

// NewKillSwitch 创建紧急开关
func NewKillSwitch(initial bool) *KillSwitch {
	ks := &KillSwitch{}
	ks.v.Store(initial)
	return ks
}

// Enabled 当前是否开启
func (k *KillSwitch) Enabled() bool {
	return k.v.Load()
}

// Set 设置开关，返回是否发生变化
func (k *KillSwitch) Set(on bool) bool {
	return k.v.Swap(on) != on
}

// ConfigWatcher 配置文件监控器
// 只热更新 risk.kill_switch，其余配置在会话内保持不变
type ConfigWatcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	killSwitch   *KillSwitch
	mu           sync.Mutex
	isWatching   bool
	lastModTime  time.Time
	errorChan    chan error
	onKillSwitch func(enabled bool)
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, killSwitch *KillSwitch) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  absPath,
		watcher:     watcher,
		killSwitch:  killSwitch,
		lastModTime: lastModTime,
		errorChan:   make(chan error, 10),
	}, nil
}

// OnKillSwitchChange 紧急开关热更新发生变化时回调，需在 Start 之前设置
func (cw *ConfigWatcher) OnKillSwitchChange(fn func(enabled bool)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.onKillSwitch = fn
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控目录而不是文件，编辑器的原子替换会让文件监听失效
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	err := cw.watcher.Close()
	close(cw.errorChan)
	return err
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == cw.configPath && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				time.Sleep(100 * time.Millisecond)
				cw.reload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.pushError(err)

		case <-ticker.C:
			// 备用机制：部分文件系统不产生事件
			if info, err := os.Stat(cw.configPath); err == nil && info.ModTime().After(cw.modTime()) {
				cw.reload()
			}
		}
	}
}

func (cw *ConfigWatcher) modTime() time.Time {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.lastModTime
}

// reload 重新读取配置，仅应用紧急开关
func (cw *ConfigWatcher) reload() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.pushError(fmt.Errorf("获取文件信息失败: %w", err))
		return
	}

	cw.mu.Lock()
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	cfg, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.pushError(fmt.Errorf("重新加载配置失败: %w", err))
		return
	}

	if !cw.killSwitch.Set(cfg.Risk.KillSwitch) {
		return
	}
	if cfg.Risk.KillSwitch {
		logger.Warn("🛑 [配置热更新] 紧急开关已开启，停止所有下单")
	} else {
		logger.Info("✅ [配置热更新] 紧急开关已关闭")
	}
	cw.mu.Lock()
	fn := cw.onKillSwitch
	cw.mu.Unlock()
	if fn != nil {
		fn(cfg.Risk.KillSwitch)
	}
}

func (cw *ConfigWatcher) pushError(err error) {
	logger.Warn("⚠️ [配置监控] %v", err)
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if !cw.isWatching {
		return
	}
	select {
	case cw.errorChan <- err:
	default:
	}
}

// GetErrorChan 获取错误通道
func (cw *ConfigWatcher) GetErrorChan() <-chan error {
	return cw.errorChan
}
