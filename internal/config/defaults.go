package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9981"
	defaultAppLogPath       = "/data/logs/upagent-live.log"
	defaultAppOracleLogPath = "/data/logs/upagent-oracle.log"

	defaultMaxPositionSize  = 100000
	defaultStopLossPct      = 0.01
	defaultTakeProfitPct    = 0.02
	defaultMinConfidence    = 0.75
	defaultMaxTradesPerDay  = 20
	defaultMaxDailyLossPct  = 0.02
	defaultStartingCapital  = 100000
	defaultDecisionInterval = 320
	defaultMarketCloseTime  = "14:55"
	defaultTimezone         = "Asia/Kolkata"
	defaultLeverage         = 5
	defaultProductCode      = "I"
	defaultSelectCompare    = 10
	defaultInstrumentsCount = 1
	defaultPreviousDecision = 5
	defaultInstrumentDelay  = 5

	defaultUpstoxBaseURL    = "https://api.upstox.com/v2"
	defaultInstrumentsURL   = "https://assets.upstox.com/market-quote/instruments/exchange/NSE.json.gz"
	defaultInstrumentsCache = "/data/cache/nse_instruments.json.gz"
	defaultUpstoxTimeout    = 15
	defaultTokenPath        = "/data/secret/upstox_token"

	defaultOracleProvider = "openai"
	defaultOracleURL      = "https://api.openai.com/v1/chat/completions"
	defaultOracleTimeout  = 120
	defaultOracleRetries  = 3
	defaultUSDToINR       = 84.0
	defaultChartDir       = "/data/charts"

	defaultNewsPageSize = 10
	defaultNewsLookback = 3
	defaultNewsTimeout  = 10

	defaultStorePath       = "/data/live/upagent.db"
	defaultDecisionLogPath = "/data/live/decisions.db"
	defaultWatchlistPath   = "configs/watchlist.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Upstox.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.News.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Watchlist.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.oracle_log_path", &a.OracleLog, defaultAppOracleLogPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.max_position_size", &t.MaxPositionSize, defaultMaxPositionSize),
		floatFieldDefault("trading.stop_loss_pct", &t.StopLossPct, defaultStopLossPct),
		floatFieldDefault("trading.take_profit_pct", &t.TakeProfitPct, defaultTakeProfitPct),
		floatFieldDefault("trading.min_confidence_threshold", &t.MinConfidence, defaultMinConfidence),
		intFieldDefault("trading.max_trades_per_day", &t.MaxTradesPerDay, defaultMaxTradesPerDay),
		floatFieldDefault("trading.max_daily_loss_pct", &t.MaxDailyLossPct, defaultMaxDailyLossPct),
		floatFieldDefault("trading.starting_capital", &t.StartingCapital, defaultStartingCapital),
		intFieldDefault("trading.decision_interval_seconds", &t.DecisionIntervalSeconds, defaultDecisionInterval),
		stringFieldDefault("trading.market_close_time", &t.MarketCloseTime, defaultMarketCloseTime),
		stringFieldDefault("trading.timezone", &t.Timezone, defaultTimezone),
		intFieldDefault("trading.leverage", &t.Leverage, defaultLeverage),
		stringFieldDefault("trading.product_code", &t.ProductCode, defaultProductCode),
		boolFieldDefault("trading.auto_pick", &t.AutoPick, true),
		boolFieldDefault("trading.random_select", &t.RandomSelect, true),
		intFieldDefault("trading.select_count_to_compare", &t.SelectCountToCompare, defaultSelectCompare),
		intFieldDefault("trading.instruments_to_trade", &t.InstrumentsToTrade, defaultInstrumentsCount),
		intFieldDefault("trading.previous_decisions_to_consider", &t.PreviousDecisions, defaultPreviousDecision),
		intFieldDefault("trading.instrument_delay_seconds", &t.InstrumentDelaySeconds, defaultInstrumentDelay),
	)
}

func (u *UpstoxConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("upstox.base_url", &u.BaseURL, defaultUpstoxBaseURL),
		stringFieldDefault("upstox.instruments_url", &u.InstrumentsURL, defaultInstrumentsURL),
		stringFieldDefault("upstox.instruments_cache_path", &u.InstrumentsCachePath, defaultInstrumentsCache),
		stringFieldDefault("upstox.access_token_path", &u.AccessTokenPath, defaultTokenPath),
		intFieldDefault("upstox.timeout_seconds", &u.TimeoutSeconds, defaultUpstoxTimeout),
	)
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("oracle.provider", &o.Provider, defaultOracleProvider),
		stringFieldDefault("oracle.api_url", &o.APIURL, defaultOracleURL),
		stringFieldDefault("oracle.chart_dir", &o.ChartDir, defaultChartDir),
		intFieldDefault("oracle.timeout_seconds", &o.TimeoutSeconds, defaultOracleTimeout),
		intFieldDefault("oracle.max_retries", &o.MaxRetries, defaultOracleRetries),
		floatFieldDefault("oracle.usd_to_inr", &o.USDToINR, defaultUSDToINR),
		boolFieldDefault("oracle.supports_vision", &o.SupportsVision, true),
	)
	if o.Temperature < 0 {
		o.Temperature = 0
	}
}

func (n *NewsConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("news.page_size", &n.PageSize, defaultNewsPageSize),
		intFieldDefault("news.lookback_days", &n.LookbackDays, defaultNewsLookback),
		intFieldDefault("news.timeout_seconds", &n.TimeoutSeconds, defaultNewsTimeout),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
	)
}

func (w *WatchlistConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("watchlist.path", &w.Path, defaultWatchlistPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
