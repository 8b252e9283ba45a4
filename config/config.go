package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// 启动对账策略
const (
	PolicyAdoptContinue   = "adopt_continue"
	PolicyHaltOnly        = "halt_only"
	PolicyAutoFlattenHalt = "auto_flatten_halt"
)

// ThresholdActionFlattenHalt 阈值触发后平仓并停机
const ThresholdActionFlattenHalt = "flatten_halt"

// ThresholdTrack 回撤/止盈阈值档位
type ThresholdTrack struct {
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct" toml:"max_drawdown_pct" json:"max_drawdown_pct"`
	ProfitTargetPct float64 `yaml:"profit_target_pct" toml:"profit_target_pct" json:"profit_target_pct"`
}

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key" toml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key" json:"secret_key"`
	Testnet   bool   `yaml:"testnet" toml:"testnet" json:"testnet"` // 是否使用测试网
}

// Config 仓位管理运行时配置
type Config struct {
	App struct {
		CurrentExchange string `yaml:"current_exchange" toml:"current_exchange"` // binance 或 paper
		DryRun          bool   `yaml:"dry_run" toml:"dry_run"`                   // 模拟模式，不发送真实订单
	} `yaml:"app" toml:"app"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges" toml:"exchanges"`

	Trading struct {
		Symbol          string  `yaml:"symbol" toml:"symbol"`
		IntervalMinutes int     `yaml:"interval_minutes" toml:"interval_minutes"` // K线周期（分钟），同时也是调度周期
		OrderSizeUSDT   float64 `yaml:"order_size_usdt" toml:"order_size_usdt"`   // 信号未给出金额时的默认下单金额
		Leverage        int     `yaml:"leverage" toml:"leverage"`
	} `yaml:"trading" toml:"trading"`

	Strategy struct {
		Name            string  `yaml:"name" toml:"name"`                       // mean_reversion / random
		HistoryCandles  int     `yaml:"history_candles" toml:"history_candles"` // 每个周期拉取的K线数量
		BBWindow        int     `yaml:"bb_window" toml:"bb_window"`
		BBStd           float64 `yaml:"bb_std" toml:"bb_std"`
		ATRWindow       int     `yaml:"atr_window" toml:"atr_window"`
		SLATRMultiplier float64 `yaml:"sl_atr_multiplier" toml:"sl_atr_multiplier"`
		Capital         float64 `yaml:"capital" toml:"capital"`
		RiskPerTradePct float64 `yaml:"risk_per_trade_pct" toml:"risk_per_trade_pct"`
	} `yaml:"strategy" toml:"strategy"`

	Risk struct {
		KillSwitch              bool                      `yaml:"kill_switch" toml:"kill_switch"` // 支持热更新
		FailClosed              bool                      `yaml:"fail_closed" toml:"fail_closed"`
		ThresholdAction         string                    `yaml:"threshold_action" toml:"threshold_action"`
		RiskPerTradePct         float64                   `yaml:"risk_per_trade_pct" toml:"risk_per_trade_pct"` // 0 表示不按权益限制下单金额
		MinNotionalSafetyFactor float64                   `yaml:"min_notional_safety_factor" toml:"min_notional_safety_factor"`
		ActiveTrack             string                    `yaml:"active_track" toml:"active_track"`
		Tracks                  map[string]ThresholdTrack `yaml:"tracks" toml:"tracks"`
	} `yaml:"risk" toml:"risk"`

	Ops struct {
		DataCloseBufferSeconds     int    `yaml:"data_close_buffer_seconds" toml:"data_close_buffer_seconds"`
		StateFile                  string `yaml:"state_file" toml:"state_file"`
		LockFile                   string `yaml:"lock_file" toml:"lock_file"`
		StartupMismatchPolicy      string `yaml:"startup_mismatch_policy" toml:"startup_mismatch_policy"`
		HaltOnReconcileMismatch    bool   `yaml:"halt_on_reconcile_mismatch" toml:"halt_on_reconcile_mismatch"` // 旧配置，等价于 halt_only
		MaxRepeatedErrors          int    `yaml:"max_repeated_errors" toml:"max_repeated_errors"`
		RepeatedErrorWindowSeconds int    `yaml:"repeated_error_window_seconds" toml:"repeated_error_window_seconds"`
		ResetBaselineOnStart       bool   `yaml:"reset_baseline_on_start" toml:"reset_baseline_on_start"`
	} `yaml:"ops" toml:"ops"`

	Execution struct {
		CloseMode                 string  `yaml:"close_mode" toml:"close_mode"`
		LiquidityUsagePct         float64 `yaml:"liquidity_usage_pct" toml:"liquidity_usage_pct"`
		OrderbookLevels           int     `yaml:"orderbook_levels" toml:"orderbook_levels"`
		MaxSlippageBps            float64 `yaml:"max_slippage_bps" toml:"max_slippage_bps"`
		CloseMinSliceQty          float64 `yaml:"close_min_slice_qty" toml:"close_min_slice_qty"`
		CloseRetryIntervalSeconds float64 `yaml:"close_retry_interval_seconds" toml:"close_retry_interval_seconds"`
		CloseMaxRetries           int     `yaml:"close_max_retries" toml:"close_max_retries"`
		CloseMaxDurationSeconds   float64 `yaml:"close_max_duration_seconds" toml:"close_max_duration_seconds"`
		CloseNoProgressRetries    int     `yaml:"close_no_progress_retries" toml:"close_no_progress_retries"`
		PositionQtyTolerance      float64 `yaml:"position_qty_tolerance" toml:"position_qty_tolerance"`
		FailHaltOnCloseFailure    bool    `yaml:"fail_halt_on_close_failure" toml:"fail_halt_on_close_failure"`
		CallTimeoutSeconds        int     `yaml:"call_timeout_seconds" toml:"call_timeout_seconds"`   // 单次交易所调用超时
		RequestsPerSecond         float64 `yaml:"requests_per_second" toml:"requests_per_second"`     // 交易所请求限速
		OrdersPerSecond           float64 `yaml:"orders_per_second" toml:"orders_per_second"`         // 下单限速
	} `yaml:"execution" toml:"execution"`

	Lock struct {
		Type  string `yaml:"type" toml:"type"` // file / redis
		Redis struct {
			Addr       string `yaml:"addr" toml:"addr"`
			Password   string `yaml:"password" toml:"password"`
			DB         int    `yaml:"db" toml:"db"`
			Prefix     string `yaml:"prefix" toml:"prefix"`
			TTLSeconds int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
		} `yaml:"redis" toml:"redis"`
	} `yaml:"lock" toml:"lock"`

	Storage struct {
		Enabled       bool   `yaml:"enabled" toml:"enabled"`
		Path          string `yaml:"path" toml:"path"`
		BufferSize    int    `yaml:"buffer_size" toml:"buffer_size"`       // 异步队列长度
		BatchSize     int    `yaml:"batch_size" toml:"batch_size"`         // 达到该数量立即落库
		FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"` // 定期落库间隔（秒）
		PersistLogs   bool   `yaml:"persist_logs" toml:"persist_logs"`     // 日志同时写入审计库
	} `yaml:"storage" toml:"storage"`

	Metrics struct {
		Enabled bool `yaml:"enabled" toml:"enabled"`
	} `yaml:"metrics" toml:"metrics"`

	Web struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Host    string `yaml:"host" toml:"host"`
		Port    int    `yaml:"port" toml:"port"`
	} `yaml:"web" toml:"web"`

	Notifications struct {
		Enabled  bool `yaml:"enabled" toml:"enabled"`
		Telegram struct {
			Enabled  bool   `yaml:"enabled" toml:"enabled"`
			BotToken string `yaml:"bot_token" toml:"bot_token"`
			ChatID   string `yaml:"chat_id" toml:"chat_id"`
		} `yaml:"telegram" toml:"telegram"`
	} `yaml:"notifications" toml:"notifications"`

	System struct {
		LogLevel  string `yaml:"log_level" toml:"log_level"`
		LogDir    string `yaml:"log_dir" toml:"log_dir"`
		LogToFile bool   `yaml:"log_to_file" toml:"log_to_file"`
		Timezone  string `yaml:"timezone" toml:"timezone"` // 仅影响状态接口的展示时间
	} `yaml:"system" toml:"system"`
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.CurrentExchange = "binance"
	cfg.Exchanges = make(map[string]ExchangeConfig)

	cfg.Trading.IntervalMinutes = 15
	cfg.Trading.OrderSizeUSDT = 500
	cfg.Trading.Leverage = 1

	cfg.Strategy.Name = "mean_reversion"
	cfg.Strategy.HistoryCandles = 100
	cfg.Strategy.BBWindow = 20
	cfg.Strategy.BBStd = 2.0
	cfg.Strategy.ATRWindow = 14
	cfg.Strategy.SLATRMultiplier = 1.5
	cfg.Strategy.Capital = 100000
	cfg.Strategy.RiskPerTradePct = 0.25

	cfg.Risk.FailClosed = true
	cfg.Risk.ThresholdAction = ThresholdActionFlattenHalt
	cfg.Risk.RiskPerTradePct = 0.25
	cfg.Risk.MinNotionalSafetyFactor = 1.05
	cfg.Risk.ActiveTrack = "normal"
	cfg.Risk.Tracks = map[string]ThresholdTrack{
		"normal":  {MaxDrawdownPct: 5.0, ProfitTargetPct: 5.0},
		"low_vol": {MaxDrawdownPct: 2.0, ProfitTargetPct: 2.0},
	}

	cfg.Ops.DataCloseBufferSeconds = 2
	cfg.Ops.StateFile = "state/runtime_state.json"
	cfg.Ops.LockFile = "state/runtime.lock"
	cfg.Ops.MaxRepeatedErrors = 20
	cfg.Ops.RepeatedErrorWindowSeconds = 300

	cfg.Execution.CloseMode = "reduce_only_twap_slice"
	cfg.Execution.LiquidityUsagePct = 0.20
	cfg.Execution.OrderbookLevels = 20
	cfg.Execution.MaxSlippageBps = 20
	cfg.Execution.CloseMinSliceQty = 0.01
	cfg.Execution.CloseRetryIntervalSeconds = 2
	cfg.Execution.CloseMaxRetries = 20
	cfg.Execution.CloseMaxDurationSeconds = 90
	cfg.Execution.CloseNoProgressRetries = 3
	cfg.Execution.PositionQtyTolerance = 1e-6
	cfg.Execution.FailHaltOnCloseFailure = true
	cfg.Execution.CallTimeoutSeconds = 10
	cfg.Execution.RequestsPerSecond = 10
	cfg.Execution.OrdersPerSecond = 5

	cfg.Lock.Type = "file"
	cfg.Lock.Redis.Prefix = "perpguard:lock:"
	cfg.Lock.Redis.TTLSeconds = 30

	cfg.Storage.Enabled = true
	cfg.Storage.Path = "state/journal.db"
	cfg.Storage.BufferSize = 1000
	cfg.Storage.BatchSize = 50
	cfg.Storage.FlushInterval = 2

	cfg.Metrics.Enabled = true

	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 28890

	cfg.Notifications.Enabled = true

	cfg.System.LogLevel = "INFO"
	cfg.System.LogDir = "logs"
	cfg.System.Timezone = "UTC"

	return cfg
}

// LoadConfig 加载配置文件（.yaml/.yml 或 .toml），依次应用默认值、文件内容、环境变量
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		format = "toml"
	}
	return LoadConfigFromBytes(data, format)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte, format string) (*Config, error) {
	cfg := DefaultConfig()

	switch format {
	case "toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	applyEnvOverrides(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置并补全缺省值
func (c *Config) Validate() error {
	if c.App.CurrentExchange == "" {
		return fmt.Errorf("必须指定当前使用的交易所 (app.current_exchange)")
	}
	if c.App.CurrentExchange != "paper" {
		exCfg, ok := c.Exchanges[c.App.CurrentExchange]
		if !ok {
			return fmt.Errorf("交易所 %s 的配置不存在", c.App.CurrentExchange)
		}
		if !c.App.DryRun && (exCfg.APIKey == "" || exCfg.SecretKey == "") {
			return fmt.Errorf("交易所 %s 的 API 配置不完整", c.App.CurrentExchange)
		}
	}

	if c.Trading.Symbol == "" {
		return fmt.Errorf("交易对不能为空 (trading.symbol)")
	}
	if _, err := Timeframe(c.Trading.IntervalMinutes); err != nil {
		return err
	}
	if c.Trading.OrderSizeUSDT <= 0 {
		return fmt.Errorf("默认下单金额必须大于0 (trading.order_size_usdt)")
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 1
	}
	if c.Strategy.HistoryCandles <= 0 {
		c.Strategy.HistoryCandles = 100
	}

	// 风控
	if c.Risk.ThresholdAction == "" {
		c.Risk.ThresholdAction = ThresholdActionFlattenHalt
	}
	if c.Risk.ThresholdAction != ThresholdActionFlattenHalt {
		return fmt.Errorf("不支持的阈值动作: %s", c.Risk.ThresholdAction)
	}
	if c.Risk.MinNotionalSafetyFactor < 1 {
		return fmt.Errorf("min_notional_safety_factor 不能小于1，当前: %.4f", c.Risk.MinNotionalSafetyFactor)
	}
	if c.Risk.RiskPerTradePct < 0 {
		return fmt.Errorf("risk_per_trade_pct 不能为负数")
	}
	track, ok := c.Risk.Tracks[c.Risk.ActiveTrack]
	if !ok {
		return fmt.Errorf("阈值档位 %s 不存在 (risk.active_track)", c.Risk.ActiveTrack)
	}
	if track.MaxDrawdownPct <= 0 || track.ProfitTargetPct <= 0 {
		return fmt.Errorf("阈值档位 %s 的回撤/止盈百分比必须大于0", c.Risk.ActiveTrack)
	}

	// 运维
	if c.Ops.DataCloseBufferSeconds < 0 {
		return fmt.Errorf("data_close_buffer_seconds 不能为负数")
	}
	if c.Ops.StateFile == "" || c.Ops.LockFile == "" {
		return fmt.Errorf("state_file 和 lock_file 不能为空")
	}
	if c.Ops.StartupMismatchPolicy == "" {
		if c.Ops.HaltOnReconcileMismatch {
			c.Ops.StartupMismatchPolicy = PolicyHaltOnly
		} else {
			c.Ops.StartupMismatchPolicy = PolicyAdoptContinue
		}
	}
	switch c.Ops.StartupMismatchPolicy {
	case PolicyAdoptContinue, PolicyHaltOnly, PolicyAutoFlattenHalt:
	default:
		return fmt.Errorf("不支持的启动对账策略: %s", c.Ops.StartupMismatchPolicy)
	}
	if c.Ops.MaxRepeatedErrors <= 0 {
		return fmt.Errorf("max_repeated_errors 必须大于0")
	}
	if c.Ops.RepeatedErrorWindowSeconds <= 0 {
		return fmt.Errorf("repeated_error_window_seconds 必须大于0")
	}

	// 平仓执行
	e := &c.Execution
	if e.LiquidityUsagePct <= 0 || e.LiquidityUsagePct > 1 {
		return fmt.Errorf("liquidity_usage_pct 必须在 (0, 1] 区间内，当前: %.4f", e.LiquidityUsagePct)
	}
	if e.OrderbookLevels <= 0 {
		return fmt.Errorf("orderbook_levels 必须大于0")
	}
	if e.MaxSlippageBps < 0 {
		return fmt.Errorf("max_slippage_bps 不能为负数")
	}
	if e.CloseMinSliceQty <= 0 {
		return fmt.Errorf("close_min_slice_qty 必须大于0")
	}
	if e.CloseRetryIntervalSeconds < 0 {
		return fmt.Errorf("close_retry_interval_seconds 不能为负数")
	}
	if e.CloseMaxRetries <= 0 || e.CloseNoProgressRetries <= 0 {
		return fmt.Errorf("close_max_retries 和 close_no_progress_retries 必须大于0")
	}
	if e.CloseMaxDurationSeconds <= 0 {
		return fmt.Errorf("close_max_duration_seconds 必须大于0")
	}
	if e.PositionQtyTolerance < 0 {
		return fmt.Errorf("position_qty_tolerance 不能为负数")
	}
	if e.CallTimeoutSeconds <= 0 {
		e.CallTimeoutSeconds = 10
	}
	if e.RequestsPerSecond <= 0 {
		e.RequestsPerSecond = 10
	}
	if e.OrdersPerSecond <= 0 {
		e.OrdersPerSecond = 5
	}

	switch c.Lock.Type {
	case "", "file":
		c.Lock.Type = "file"
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("redis 锁需要配置 lock.redis.addr")
		}
		if c.Lock.Redis.TTLSeconds <= 0 {
			c.Lock.Redis.TTLSeconds = 30
		}
	default:
		return fmt.Errorf("不支持的锁类型: %s", c.Lock.Type)
	}

	if c.Storage.Enabled {
		if c.Storage.Path == "" {
			c.Storage.Path = "state/journal.db"
		}
		if c.Storage.BufferSize <= 0 {
			c.Storage.BufferSize = 1000
		}
		if c.Storage.BatchSize <= 0 {
			c.Storage.BatchSize = 50
		}
		if c.Storage.FlushInterval <= 0 {
			c.Storage.FlushInterval = 2
		}
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web.port 无效: %d", c.Web.Port)
	}
	if c.Notifications.Telegram.Enabled && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		return fmt.Errorf("启用 Telegram 通知需要 bot_token 和 chat_id")
	}
	return nil
}

// ActiveThresholds 返回当前会话使用的阈值档位
func (c *Config) ActiveThresholds() ThresholdTrack {
	return c.Risk.Tracks[c.Risk.ActiveTrack]
}

var timeframes = map[int]string{
	1: "1m", 3: "3m", 5: "5m", 15: "15m", 30: "30m",
	60: "1h", 120: "2h", 240: "4h", 360: "6h", 480: "8h", 720: "12h", 1440: "1d",
}

// Timeframe 将分钟数转换为K线周期字符串
func Timeframe(intervalMinutes int) (string, error) {
	tf, ok := timeframes[intervalMinutes]
	if !ok {
		return "", fmt.Errorf("不支持的K线周期: %d 分钟", intervalMinutes)
	}
	return tf, nil
}

// Masked 返回隐藏密钥后的配置副本（用于日志输出）
func (c *Config) Masked() Config {
	out := *c
	out.Exchanges = make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if ex.APIKey != "" {
			ex.APIKey = "***MASKED***"
		}
		if ex.SecretKey != "" {
			ex.SecretKey = "***MASKED***"
		}
		out.Exchanges[name] = ex
	}
	if out.Notifications.Telegram.BotToken != "" {
		out.Notifications.Telegram.BotToken = "***MASKED***"
	}
	if out.Lock.Redis.Password != "" {
		out.Lock.Redis.Password = "***MASKED***"
	}
	return out
}
