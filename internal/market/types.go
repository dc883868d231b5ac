package market

import "strings"

// Instrument 标识一只可交易的股票，每轮决策从标的全集重新解析。
type Instrument struct {
	InstrumentKey  string  `json:"instrument_key"`
	TradingSymbol  string  `json:"trading_symbol"`
	DisplayName    string  `json:"display_name"`
	LastKnownPrice float64 `json:"last_known_price"`
}

// Position 是券商回报的持仓快照。
type Position struct {
	InstrumentKey string  `json:"instrument_key"`
	TradingSymbol string  `json:"trading_symbol"`
	Quantity      int     `json:"quantity"`
	Product       string  `json:"product"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// IsOpen 判定持仓是否处于指定日内产品下的敞口状态。
func (p Position) IsOpen(productCode string) bool {
	return p.Quantity != 0 && strings.EqualFold(strings.TrimSpace(p.Product), strings.TrimSpace(productCode))
}

// Quote 是单只股票的实时行情摘要。
type Quote struct {
	InstrumentKey string  `json:"instrument_key"`
	LastPrice     float64 `json:"last_price"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	UpperLimit    float64 `json:"upper_limit"`
	LowerLimit    float64 `json:"lower_limit"`
}

// Funds 是账户保证金快照。
type Funds struct {
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	PayinAmount     float64 `json:"payin_amount"`
}
