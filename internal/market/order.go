package market

import "time"

// OrderRequest 由核心根据已批准的提案构造，提交后不再跟踪生命周期。
type OrderRequest struct {
	InstrumentKey string  `json:"instrument_key"`
	Side          string  `json:"side"` // BUY / SELL
	Quantity      int     `json:"quantity"`
	OrderType     string  `json:"order_type"` // MARKET / LIMIT / SL
	LimitPrice    float64 `json:"limit_price,omitempty"`
	TriggerPrice  float64 `json:"trigger_price,omitempty"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	Product       string  `json:"product"`
	Validity      string  `json:"validity"`
	Tag           string  `json:"tag,omitempty"`
}

// OrderResult 是券商受理下单后的回执。
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OrderUpdate 来自组合流的实时回报，火后即忘，周期内不阻塞等待。
type OrderUpdate struct {
	OrderID       string    `json:"order_id"`
	InstrumentKey string    `json:"instrument_key"`
	Status        string    `json:"status"`
	Side          string    `json:"side"`
	FilledQty     int       `json:"filled_quantity"`
	AveragePrice  float64   `json:"average_price"`
	UpdatedAt     time.Time `json:"updated_at"`
}
