package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createValidConfig() *Config {
	cfg := DefaultConfig()
	cfg.Exchanges["binance"] = ExchangeConfig{
		APIKey:    "test_key",
		SecretKey: "test_secret",
	}
	cfg.Trading.Symbol = "ETHUSDT"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置验证失败: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"缺少交易所", func(c *Config) { c.App.CurrentExchange = "" }},
		{"缺少API密钥", func(c *Config) { c.Exchanges["binance"] = ExchangeConfig{} }},
		{"缺少交易对", func(c *Config) { c.Trading.Symbol = "" }},
		{"不支持的周期", func(c *Config) { c.Trading.IntervalMinutes = 7 }},
		{"安全系数小于1", func(c *Config) { c.Risk.MinNotionalSafetyFactor = 0.9 }},
		{"档位不存在", func(c *Config) { c.Risk.ActiveTrack = "aggressive" }},
		{"未知对账策略", func(c *Config) { c.Ops.StartupMismatchPolicy = "ignore" }},
		{"流动性比例超过1", func(c *Config) { c.Execution.LiquidityUsagePct = 1.5 }},
		{"最大重试为0", func(c *Config) { c.Execution.CloseMaxRetries = 0 }},
		{"redis锁缺少地址", func(c *Config) { c.Lock.Type = "redis" }},
		{"telegram缺少token", func(c *Config) { c.Notifications.Telegram.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := createValidConfig()
			tc.mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("%s 应该报错", tc.name)
			}
		})
	}
}

func TestDryRunPaperWithoutKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Symbol = "ETHUSDT"
	cfg.App.CurrentExchange = "paper"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("paper 交易所不需要密钥: %v", err)
	}
}

func TestLegacyHaltOnReconcileMismatch(t *testing.T) {
	cfg := createValidConfig()
	cfg.Ops.StartupMismatchPolicy = ""
	cfg.Ops.HaltOnReconcileMismatch = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Ops.StartupMismatchPolicy != PolicyHaltOnly {
		t.Errorf("期望 %s, 得到 %s", PolicyHaltOnly, cfg.Ops.StartupMismatchPolicy)
	}

	cfg = createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Ops.StartupMismatchPolicy != PolicyAdoptContinue {
		t.Errorf("期望默认 %s, 得到 %s", PolicyAdoptContinue, cfg.Ops.StartupMismatchPolicy)
	}
}

func TestLoadConfigYAMLKeepsDefaults(t *testing.T) {
	data := []byte(`
exchanges:
  binance:
    api_key: k
    secret_key: s
trading:
  symbol: PAXGUSDT
risk:
  active_track: low_vol
execution:
  close_max_retries: 5
`)
	cfg, err := LoadConfigFromBytes(data, "yaml")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Trading.Symbol != "PAXGUSDT" {
		t.Errorf("交易对错误: %s", cfg.Trading.Symbol)
	}
	if !cfg.Risk.FailClosed {
		t.Error("fail_closed 默认应为 true")
	}
	if cfg.Execution.CloseMaxRetries != 5 {
		t.Errorf("close_max_retries 期望 5, 得到 %d", cfg.Execution.CloseMaxRetries)
	}
	if cfg.Execution.CloseNoProgressRetries != 3 {
		t.Errorf("close_no_progress_retries 默认应为 3, 得到 %d", cfg.Execution.CloseNoProgressRetries)
	}
	if got := cfg.ActiveThresholds(); got.MaxDrawdownPct != 2.0 || got.ProfitTargetPct != 2.0 {
		t.Errorf("low_vol 档位错误: %+v", got)
	}
}

func TestLoadConfigTOML(t *testing.T) {
	data := []byte(`
[app]
current_exchange = "paper"

[trading]
symbol = "ETHUSDT"
interval_minutes = 5

[ops]
startup_mismatch_policy = "auto_flatten_halt"
`)
	cfg, err := LoadConfigFromBytes(data, "toml")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Trading.IntervalMinutes != 5 {
		t.Errorf("interval_minutes 期望 5, 得到 %d", cfg.Trading.IntervalMinutes)
	}
	if cfg.Ops.StartupMismatchPolicy != PolicyAutoFlattenHalt {
		t.Errorf("对账策略错误: %s", cfg.Ops.StartupMismatchPolicy)
	}
	if cfg.Ops.StateFile != "state/runtime_state.json" {
		t.Errorf("state_file 默认值错误: %s", cfg.Ops.StateFile)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := createValidConfig()
	env := map[string]string{
		"RISK_KILL_SWITCH":            "true",
		"EXECUTION_CLOSE_MAX_RETRIES": "7",
		"OPS_STATE_FILE":              "/tmp/s.json",
		"TRADING_LEVERAGE":            "abc",
	}
	applyEnvOverrides(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if !cfg.Risk.KillSwitch {
		t.Error("RISK_KILL_SWITCH 未生效")
	}
	if cfg.Execution.CloseMaxRetries != 7 {
		t.Errorf("EXECUTION_CLOSE_MAX_RETRIES 未生效: %d", cfg.Execution.CloseMaxRetries)
	}
	if cfg.Ops.StateFile != "/tmp/s.json" {
		t.Errorf("OPS_STATE_FILE 未生效: %s", cfg.Ops.StateFile)
	}
	if cfg.Trading.Leverage != 1 {
		t.Errorf("无法解析的值应被忽略, 得到 %d", cfg.Trading.Leverage)
	}
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg := createValidConfig()
	cfg.Notifications.Telegram.BotToken = "123:abc"
	m := cfg.Masked()
	if m.Exchanges["binance"].SecretKey != "***MASKED***" || m.Notifications.Telegram.BotToken != "***MASKED***" {
		t.Errorf("密钥未隐藏: %+v", m.Exchanges["binance"])
	}
	if cfg.Exchanges["binance"].SecretKey != "test_secret" {
		t.Error("Masked 不应修改原配置")
	}
}

func TestConfigWatcherKillSwitch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(kill string) {
		content := "app:\n  current_exchange: paper\ntrading:\n  symbol: ETHUSDT\nrisk:\n  kill_switch: " + kill + "\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("false")

	ks := NewKillSwitch(false)
	cw, err := NewConfigWatcher(path, ks)
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	defer cw.Stop()

	var changes []bool
	cw.OnKillSwitchChange(func(enabled bool) { changes = append(changes, enabled) })

	touch := func(kill string, offset time.Duration) {
		write(kill)
		later := time.Now().Add(offset)
		if err := os.Chtimes(path, later, later); err != nil {
			t.Fatal(err)
		}
	}

	// 确保修改时间前进
	touch("true", 2*time.Second)
	cw.reload()
	if !ks.Enabled() {
		t.Error("紧急开关应已开启")
	}

	// 值未变化时不回调
	touch("true", 4*time.Second)
	cw.reload()
	if len(changes) != 1 || !changes[0] {
		t.Errorf("应只回调一次开启, 得到 %v", changes)
	}

	touch("false", 6*time.Second)
	cw.reload()
	if ks.Enabled() || len(changes) != 2 || changes[1] {
		t.Errorf("应回调关闭, 得到 enabled=%v changes=%v", ks.Enabled(), changes)
	}
}

func TestConfigWatcherStopClosesErrorChan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  current_exchange: paper\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cw, err := NewConfigWatcher(path, NewKillSwitch(false))
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	if err := cw.Start(testContext(t)); err != nil {
		t.Fatalf("启动监控器失败: %v", err)
	}
	if err := cw.Stop(); err != nil {
		t.Fatalf("停止监控器失败: %v", err)
	}

	select {
	case _, ok := <-cw.GetErrorChan():
		if ok {
			t.Error("停止后错误通道应已关闭")
		}
	case <-time.After(time.Second):
		t.Error("停止后错误通道应已关闭")
	}
}
