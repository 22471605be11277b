package model

import "time"

const (
	OrderExecutionStatusFilled   = "filled"
	OrderExecutionStatusAccepted = "accepted"
	OrderExecutionStatusCanceled = "canceled"
	OrderExecutionStatusError    = "error"
)

// Purpose of a gateway order call.
const (
	OrderPurposeEntry      = "entry"
	OrderPurposeTakeProfit = "take_profit"
	OrderPurposeExit       = "exit"
	OrderPurposeCancelTP   = "cancel_tp"
)

// OrderExecutionLog records one interaction with a venue on behalf of a position.
type OrderExecutionLog struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	PositionID uint `gorm:"index" json:"position_id"`

	Venue     string   `gorm:"size:50;index" json:"venue"`
	Symbol    string   `gorm:"size:50" json:"symbol"`
	Side      string   `gorm:"size:10" json:"side"`
	OrderType string   `gorm:"size:20" json:"order_type"`
	Purpose   string   `gorm:"size:20" json:"purpose"`
	Quantity  float64  `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`
	Paper     bool     `json:"paper"`

	ExchangeOrderID  string `gorm:"size:255" json:"exchange_order_id"`
	ExchangeClientID string `gorm:"size:255" json:"exchange_client_id"`

	Status       string    `gorm:"size:50;not null" json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (OrderExecutionLog) TableName() string {
	return "order_execution_logs"
}
