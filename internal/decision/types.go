package decision

import "time"

// 中文说明：
// 本文件定义决策提案的数据结构，甄选与风控共用。

// Action 是决策提案的动作类型。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Proposal 单只股票的一次决策提案。每轮每只股票至多产生一条，产生后不再修改。
type Proposal struct {
	Action        Action  `json:"action"`
	InstrumentKey string  `json:"instrument_key"`
	TradingSymbol string  `json:"trading_symbol,omitempty"`
	Confidence    float64 `json:"confidence_score"`
	Quantity      int     `json:"quantity,omitempty"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// Record 是写入审计日志的决策记录，先落库再过风控。
type Record struct {
	TraceID       string    `json:"trace_id"`
	InstrumentKey string    `json:"instrument_key"`
	TradingSymbol string    `json:"trading_symbol"`
	Action        string    `json:"action"`
	Confidence    float64   `json:"confidence_score"`
	Quantity      int       `json:"quantity"`
	CurrentPrice  float64   `json:"current_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	Reasoning     string    `json:"reasoning"`
	Approved      bool      `json:"approved"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	RawOutput     string    `json:"raw_output,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// IsActionable 返回该动作是否需要下单执行。
func (a Action) IsActionable() bool {
	return a == ActionBuy || a == ActionSell
}
