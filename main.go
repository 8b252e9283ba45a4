package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpguard/config"
	"perpguard/engine"
	"perpguard/event"
	"perpguard/exchange"
	"perpguard/lock"
	"perpguard/logger"
	"perpguard/metrics"
	"perpguard/notify"
	"perpguard/state"
	"perpguard/storage"
	"perpguard/strategy"
	"perpguard/utils"
	"perpguard/web"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "配置文件路径 (.yaml/.yml/.toml)")
	dryRun := flag.Bool("dry-run", false, "模拟模式，不发送真实订单（覆盖配置）")
	strategyName := flag.String("strategy", "", "策略名称（覆盖配置）")
	clearHalt := flag.Bool("clear-halt", false, "清除停机标记后退出")
	showVersion := flag.Bool("version", false, "显示版本号")
	flag.Parse()

	if *showVersion {
		fmt.Printf("perpguard %s\n", Version)
		return engine.ExitClean
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("❌ 加载配置失败: %v", err)
		return engine.ExitStartupFailure
	}
	if *dryRun {
		cfg.App.DryRun = true
	}
	if *strategyName != "" {
		cfg.Strategy.Name = *strategyName
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := logger.EnableFile(cfg.System.LogDir); err != nil {
		logger.Warn("⚠️ 启用文件日志失败: %v", err)
	}
	defer logger.Close()
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 时区 %s 无效，展示时间使用 UTC: %v", cfg.System.Timezone, err)
	}

	masked := cfg.Masked()
	logger.Info("🚀 perpguard %s 启动: 交易所=%s 交易对=%s 周期=%dm 策略=%s 模拟=%v",
		Version, masked.App.CurrentExchange, masked.Trading.Symbol, masked.Trading.IntervalMinutes,
		masked.Strategy.Name, masked.App.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := state.NewStore(cfg.Ops.StateFile)
	instanceLock, closeLock, err := lock.NewInstanceLock(cfg)
	if err != nil {
		logger.Error("❌ 初始化运行锁失败: %v", err)
		return engine.ExitLockFailure
	}
	defer closeLock()

	if *clearHalt {
		err := engine.ClearHalt(ctx, store, instanceLock)
		if err != nil {
			logger.Error("❌ 清除停机标记失败: %v", err)
		}
		return engine.ExitCode(err)
	}

	err = runEngine(ctx, cfg, *configPath, store, instanceLock)
	code := engine.ExitCode(err)
	if code != engine.ExitClean {
		logger.Error("❌ 进程退出 (退出码 %d): %v", code, err)
	} else {
		logger.Info("✅ 进程正常退出")
	}
	return code
}

func runEngine(ctx context.Context, cfg *config.Config, configPath string, store *state.Store, instanceLock lock.InstanceLock) error {
	runID := utils.NewRunID()

	strat, err := strategy.New(cfg.Strategy.Name, cfg)
	if err != nil {
		return err
	}

	ex, err := exchange.NewExchange(cfg)
	if err != nil {
		return fmt.Errorf("创建交易所失败: %w", err)
	}

	// 审计存储
	storageService, err := storage.NewStorageService(cfg, runID)
	if err != nil {
		return err
	}
	storageService.Start(ctx)
	defer storageService.Stop()

	// 事件中心和通知
	eventBus := event.NewEventBus(100)
	notifier := notify.NewNotificationService(cfg)
	eventCenter := event.NewEventCenter(eventBus, notifier)
	eventCenter.Start(ctx)
	defer func() {
		eventBus.Close()
		eventCenter.Wait()
		notifier.Wait()
	}()

	// 紧急开关热更新
	killSwitch := config.NewKillSwitch(cfg.Risk.KillSwitch)
	if watcher, err := config.NewConfigWatcher(configPath, killSwitch); err != nil {
		logger.Warn("⚠️ 创建配置监控器失败，紧急开关不支持热更新: %v", err)
	} else {
		watcher.OnKillSwitchChange(func(enabled bool) {
			eventBus.Publish(&event.Event{
				Type: event.EventTypeKillSwitch,
				Data: map[string]interface{}{"symbol": cfg.Trading.Symbol, "enabled": enabled},
			})
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置监控器失败: %v", err)
		} else {
			// Stop 关闭错误通道，下面的协程随之退出
			defer watcher.Stop()
			go func() {
				for err := range watcher.GetErrorChan() {
					logger.Debug("配置热更新错误: %v", err)
				}
			}()
		}
	}

	eng, err := engine.New(cfg, engine.Deps{
		Exchange:   ex,
		Strategy:   strat,
		Store:      store,
		Lock:       instanceLock,
		Journal:    storageService,
		Events:     eventBus,
		KillSwitch: killSwitch,
		RunID:      runID,
	})
	if err != nil {
		return err
	}

	var services []engine.Service
	collector := metrics.NewSystemMetricsCollector(15 * time.Second)
	if cfg.Metrics.Enabled {
		services = append(services, func(ctx context.Context) error {
			collector.Run(ctx)
			return nil
		})
	}
	api := web.NewAPI(eng, storageService.GetStorage(), storageService.Logs(), collector)
	if ws := web.NewWebServer(cfg, api); ws != nil {
		services = append(services, ws.Run)
	}

	return engine.RunWithServices(ctx, eng, services...)
}
