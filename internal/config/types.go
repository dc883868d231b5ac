package config

import "strings"

// Config 是 upagent 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Trading   TradingConfig   `toml:"trading"`
	Upstox    UpstoxConfig    `toml:"upstox"`
	Oracle    OracleConfig    `toml:"oracle"`
	News      NewsConfig      `toml:"news"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Watchlist WatchlistConfig `toml:"watchlist"`
}

type AppConfig struct {
	Env        string `toml:"env"`
	LogLevel   string `toml:"log_level"`
	HTTPAddr   string `toml:"http_addr"`
	LogPath    string `toml:"log_path"`
	OracleLog  string `toml:"oracle_log_path"`
	OracleDump bool   `toml:"oracle_dump_payload"`
}

// TradingConfig 汇集全部风控与调度参数。
type TradingConfig struct {
	MaxPositionSize         float64 `toml:"max_position_size"`              // 单笔最大名义金额（INR）
	StopLossPct             float64 `toml:"stop_loss_pct"`                  // 默认止损比例
	TakeProfitPct           float64 `toml:"take_profit_pct"`                // 默认止盈比例
	MinConfidence           float64 `toml:"min_confidence_threshold"`       // 低于该置信度一律拒绝
	MaxTradesPerDay         int     `toml:"max_trades_per_day"`             // 每日新开仓上限
	MaxDailyLossPct         float64 `toml:"max_daily_loss_pct"`             // 触发熔断的单日亏损比例
	StartingCapital         float64 `toml:"starting_capital"`               // 熔断基准资金
	DecisionIntervalSeconds int     `toml:"decision_interval_seconds"`      // 决策周期（自上轮完成起算）
	MarketCloseTime         string  `toml:"market_close_time"`              // "HH:MM" 交易所当地时间
	Timezone                string  `toml:"timezone"`                       // 交易所时区
	Leverage                int     `toml:"leverage"`                       // 日内杠杆倍数
	ProductCode             string  `toml:"product_code"`                   // 日内产品代码
	AutoPick                bool    `toml:"auto_pick"`                      // 无持仓时自动选股
	RandomSelect            bool    `toml:"random_select"`                  // 随机抽样 vs 价格前 N
	SelectCountToCompare    int     `toml:"select_count_to_compare"`        // 送入甄选的候选数
	InstrumentsToTrade      int     `toml:"instruments_to_trade"`           // 单轮处理的标的数
	PreviousDecisions       int     `toml:"previous_decisions_to_consider"` // 上下文携带的历史决策条数
	InstrumentDelaySeconds  int     `toml:"instrument_delay_seconds"`       // 相邻标的之间的间隔
}

// UpstoxConfig 描述券商网关的接入方式。
type UpstoxConfig struct {
	APIKey               string `toml:"api_key"`
	APISecret            string `toml:"api_secret"`
	RedirectURI          string `toml:"redirect_uri"`
	AccessTokenPath      string `toml:"access_token_path"`
	BaseURL              string `toml:"base_url"`
	InstrumentsURL       string `toml:"instruments_url"`
	InstrumentsCachePath string `toml:"instruments_cache_path"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	Sandbox              bool   `toml:"sandbox"`
}

// OracleConfig 描述决策模型的连接与计费参数。
type OracleConfig struct {
	Provider       string  `toml:"provider"`
	Model          string  `toml:"model"`
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	USDToINR       float64 `toml:"usd_to_inr"`
	ChartDir       string  `toml:"chart_dir"`
	SupportsVision bool    `toml:"supports_vision"`
}

type NewsConfig struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	PageSize       int    `toml:"page_size"`
	LookbackDays   int    `toml:"lookback_days"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type StoreConfig struct {
	Path            string `toml:"path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type WatchlistConfig struct {
	Path string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
