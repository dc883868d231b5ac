package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Upstox.validate(); err != nil {
		return err
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	if err := c.News.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("trading.min_confidence_threshold must be in [0,1]")
	}
	if t.MaxTradesPerDay <= 0 {
		return fmt.Errorf("trading.max_trades_per_day must be > 0")
	}
	if t.MaxDailyLossPct <= 0 || t.MaxDailyLossPct >= 1 {
		return fmt.Errorf("trading.max_daily_loss_pct must be in (0,1)")
	}
	if t.StartingCapital <= 0 {
		return fmt.Errorf("trading.starting_capital must be > 0")
	}
	if t.DecisionIntervalSeconds <= 0 {
		return fmt.Errorf("trading.decision_interval_seconds must be > 0")
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(t.MarketCloseTime)); err != nil {
		return fmt.Errorf("trading.market_close_time must be HH:MM: %w", err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(t.Timezone)); err != nil {
		return fmt.Errorf("trading.timezone invalid: %w", err)
	}
	if t.Leverage < 1 {
		return fmt.Errorf("trading.leverage must be >= 1")
	}
	if strings.TrimSpace(t.ProductCode) == "" {
		return fmt.Errorf("trading.product_code cannot be empty")
	}
	if t.SelectCountToCompare <= 0 {
		return fmt.Errorf("trading.select_count_to_compare must be > 0")
	}
	if t.InstrumentsToTrade <= 0 {
		return fmt.Errorf("trading.instruments_to_trade must be > 0")
	}
	if t.PreviousDecisions < 0 {
		return fmt.Errorf("trading.previous_decisions_to_consider must be >= 0")
	}
	return nil
}

// Location 返回交易所时区，配置已通过校验时不会失败。
func (t TradingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(t.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

func (u *UpstoxConfig) validate() error {
	if strings.TrimSpace(u.APIKey) == "" {
		return fmt.Errorf("upstox.api_key cannot be empty")
	}
	if strings.TrimSpace(u.APISecret) == "" {
		return fmt.Errorf("upstox.api_secret cannot be empty")
	}
	if strings.TrimSpace(u.BaseURL) == "" {
		return fmt.Errorf("upstox.base_url cannot be empty")
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return fmt.Errorf("oracle.model cannot be empty")
	}
	if strings.TrimSpace(o.APIURL) == "" {
		return fmt.Errorf("oracle.api_url cannot be empty")
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("oracle.api_key cannot be empty")
	}
	return nil
}

func (n *NewsConfig) validate() error {
	if n.Enabled && strings.TrimSpace(n.APIKey) == "" {
		return fmt.Errorf("news.api_key cannot be empty when news.enabled=true")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if strings.TrimSpace(s.DecisionLogPath) == "" {
		return fmt.Errorf("store.decision_log_path cannot be empty")
	}
	return nil
}
