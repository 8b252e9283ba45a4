package config

import (
	"strconv"
	"strings"

	"perpguard/logger"
)

type envSetter func(c *Config, v string) error

func setString(dst func(c *Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setBool(dst func(c *Config) *bool) envSetter {
	return func(c *Config, v string) error {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst(c) = true
		case "0", "false", "no", "off":
			*dst(c) = false
		default:
			return strconv.ErrSyntax
		}
		return nil
	}
}

func setFloat(dst func(c *Config) *float64) envSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func setInt(dst func(c *Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

// envOverrides 环境变量覆盖表，密钥类配置建议只通过环境变量注入
var envOverrides = map[string]envSetter{
	"APP_DRY_RUN":          setBool(func(c *Config) *bool { return &c.App.DryRun }),
	"APP_CURRENT_EXCHANGE": setString(func(c *Config) *string { return &c.App.CurrentExchange }),
	"BINANCE_API_KEY": func(c *Config, v string) error {
		ex := c.Exchanges["binance"]
		ex.APIKey = v
		c.Exchanges["binance"] = ex
		return nil
	},
	"BINANCE_SECRET_KEY": func(c *Config, v string) error {
		ex := c.Exchanges["binance"]
		ex.SecretKey = v
		c.Exchanges["binance"] = ex
		return nil
	},

	"TRADING_SYMBOL":           setString(func(c *Config) *string { return &c.Trading.Symbol }),
	"TRADING_ORDER_SIZE_USDT":  setFloat(func(c *Config) *float64 { return &c.Trading.OrderSizeUSDT }),
	"TRADING_LEVERAGE":         setInt(func(c *Config) *int { return &c.Trading.Leverage }),
	"TRADING_INTERVAL_MINUTES": setInt(func(c *Config) *int { return &c.Trading.IntervalMinutes }),

	"RISK_KILL_SWITCH":                setBool(func(c *Config) *bool { return &c.Risk.KillSwitch }),
	"RISK_FAIL_CLOSED":                setBool(func(c *Config) *bool { return &c.Risk.FailClosed }),
	"RISK_ACTIVE_TRACK":               setString(func(c *Config) *string { return &c.Risk.ActiveTrack }),
	"RISK_PER_TRADE_PCT":              setFloat(func(c *Config) *float64 { return &c.Risk.RiskPerTradePct }),
	"RISK_MIN_NOTIONAL_SAFETY_FACTOR": setFloat(func(c *Config) *float64 { return &c.Risk.MinNotionalSafetyFactor }),

	"OPS_STATE_FILE":                    setString(func(c *Config) *string { return &c.Ops.StateFile }),
	"OPS_LOCK_FILE":                     setString(func(c *Config) *string { return &c.Ops.LockFile }),
	"OPS_DATA_CLOSE_BUFFER_SECONDS":     setInt(func(c *Config) *int { return &c.Ops.DataCloseBufferSeconds }),
	"OPS_STARTUP_MISMATCH_POLICY":       setString(func(c *Config) *string { return &c.Ops.StartupMismatchPolicy }),
	"OPS_HALT_ON_RECONCILE_MISMATCH":    setBool(func(c *Config) *bool { return &c.Ops.HaltOnReconcileMismatch }),
	"OPS_MAX_REPEATED_ERRORS":           setInt(func(c *Config) *int { return &c.Ops.MaxRepeatedErrors }),
	"OPS_REPEATED_ERROR_WINDOW_SECONDS": setInt(func(c *Config) *int { return &c.Ops.RepeatedErrorWindowSeconds }),

	"EXECUTION_LIQUIDITY_USAGE_PCT":          setFloat(func(c *Config) *float64 { return &c.Execution.LiquidityUsagePct }),
	"EXECUTION_ORDERBOOK_LEVELS":             setInt(func(c *Config) *int { return &c.Execution.OrderbookLevels }),
	"EXECUTION_MAX_SLIPPAGE_BPS":             setFloat(func(c *Config) *float64 { return &c.Execution.MaxSlippageBps }),
	"EXECUTION_CLOSE_MIN_SLICE_QTY":          setFloat(func(c *Config) *float64 { return &c.Execution.CloseMinSliceQty }),
	"EXECUTION_CLOSE_RETRY_INTERVAL_SECONDS": setFloat(func(c *Config) *float64 { return &c.Execution.CloseRetryIntervalSeconds }),
	"EXECUTION_CLOSE_MAX_RETRIES":            setInt(func(c *Config) *int { return &c.Execution.CloseMaxRetries }),
	"EXECUTION_CLOSE_MAX_DURATION_SECONDS":   setFloat(func(c *Config) *float64 { return &c.Execution.CloseMaxDurationSeconds }),
	"EXECUTION_CLOSE_NO_PROGRESS_RETRIES":    setInt(func(c *Config) *int { return &c.Execution.CloseNoProgressRetries }),
	"EXECUTION_POSITION_QTY_TOLERANCE":       setFloat(func(c *Config) *float64 { return &c.Execution.PositionQtyTolerance }),
	"EXECUTION_FAIL_HALT_ON_CLOSE_FAILURE":   setBool(func(c *Config) *bool { return &c.Execution.FailHaltOnCloseFailure }),

	"REDIS_ADDR":         setString(func(c *Config) *string { return &c.Lock.Redis.Addr }),
	"REDIS_PASSWORD":     setString(func(c *Config) *string { return &c.Lock.Redis.Password }),
	"TELEGRAM_BOT_TOKEN": setString(func(c *Config) *string { return &c.Notifications.Telegram.BotToken }),
	"TELEGRAM_CHAT_ID":   setString(func(c *Config) *string { return &c.Notifications.Telegram.ChatID }),
	"LOG_LEVEL":          setString(func(c *Config) *string { return &c.System.LogLevel }),
}

// applyEnvOverrides 应用环境变量覆盖，无法解析的值保留文件中的配置
func applyEnvOverrides(c *Config, lookup func(string) (string, bool)) {
	if c.Exchanges == nil {
		c.Exchanges = make(map[string]ExchangeConfig)
	}
	for name, set := range envOverrides {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			logger.Warn("⚠️ 环境变量 %s=%q 无法解析，已忽略: %v", name, v, err)
		}
	}
}
