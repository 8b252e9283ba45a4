package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/exchange/binance"
	"perpguard/logger"
)

// paperStartingBalance 模拟盘初始资金
var paperStartingBalance = decimal.NewFromInt(10000)

// NewExchange 创建交易所实例，返回的实例已带超时和限速保护
func NewExchange(cfg *config.Config) (IExchange, error) {
	symbol := cfg.Trading.Symbol
	timeout := time.Duration(cfg.Execution.CallTimeoutSeconds) * time.Second

	var inner IExchange
	switch cfg.App.CurrentExchange {
	case "binance":
		exchangeCfg, exists := cfg.Exchanges["binance"]
		if !exists {
			return nil, fmt.Errorf("binance 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		// 模拟模式只需要公共行情
		if cfg.App.DryRun && (exchangeCfg.APIKey == "" || exchangeCfg.SecretKey == "") {
			cfgMap["public_only"] = "true"
		}
		adapter, err := binance.NewBinanceAdapter(cfgMap, symbol)
		if err != nil {
			return nil, err
		}
		inner = &binanceWrapper{adapter: adapter}

	case "paper":
		// 模拟盘：行情来自币安公共接口，成交在本地模拟
		exchangeCfg := cfg.Exchanges["binance"]
		adapter, err := binance.NewBinanceAdapter(map[string]string{
			"public_only": "true",
			"testnet":     fmt.Sprintf("%v", exchangeCfg.Testnet),
		}, symbol)
		if err != nil {
			return nil, err
		}
		inner = NewPaperExchange(&binanceWrapper{adapter: adapter}, paperStartingBalance)
		logger.Info("📝 [交易所] 使用模拟盘，初始资金 %s USDT", paperStartingBalance)

	default:
		return nil, fmt.Errorf("不支持的交易所: %s", cfg.App.CurrentExchange)
	}

	return NewGuarded(inner, timeout, cfg.Execution.RequestsPerSecond), nil
}
