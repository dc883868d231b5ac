package model

import (
	"gorm.io/datatypes"
)

type OrderStatus int

const (
	OrderStatusUnknown   OrderStatus = 0
	OrderStatusSubmitted OrderStatus = 1
	OrderStatusComplete  OrderStatus = 2
	OrderStatusRejected  OrderStatus = 3
	OrderStatusCancelled OrderStatus = 4
)

// OrderModel maps to the 'orders' table: one row per submitted broker order.
type OrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	BrokerOrderID string         `gorm:"column:broker_order_id;uniqueIndex"`
	TraceID       string         `gorm:"column:trace_id;index"`
	InstrumentKey string         `gorm:"column:instrument_key;index"`
	Side          string         `gorm:"column:side"`
	Quantity      int            `gorm:"column:quantity"`
	OrderType     string         `gorm:"column:order_type"`
	Product       string         `gorm:"column:product"`
	LimitPrice    float64        `gorm:"column:limit_price"`
	StopLoss      float64        `gorm:"column:stop_loss"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Status        OrderStatus    `gorm:"column:status"`
	FilledQty     int            `gorm:"column:filled_qty"`
	AveragePrice  float64        `gorm:"column:average_price"`
	RequestJSON   datatypes.JSON `gorm:"column:request_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }
