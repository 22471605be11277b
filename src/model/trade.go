package model

import "time"

const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Close reasons recorded on the trade.
const (
	CloseReasonManual     = "manual"
	CloseReasonFallback   = "fallback_target_reached"
	CloseReasonTakeProfit = "take_profit_filled"
	CloseReasonEvidence   = "take_profit_evidence"
)

// Trade is the accounting twin of a Position. Once closed it is not updated again.
type Trade struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Venue     string `gorm:"size:50;not null;index" json:"venue"`
	Symbol    string `gorm:"size:50;not null" json:"symbol"`
	Direction string `gorm:"size:10;not null" json:"direction"`
	TradeType string `gorm:"size:10;not null" json:"trade_type"`

	EntryPrice float64  `json:"entry_price"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	Quantity   float64  `json:"quantity"`
	Notional   float64  `json:"notional"`
	Leverage   float64  `json:"leverage"`

	EntryFee    float64  `json:"entry_fee"`
	ExitFee     float64  `json:"exit_fee"`
	FundingFee  float64  `json:"funding_fee"`
	GrossProfit *float64 `json:"gross_profit,omitempty"`
	NetProfit   *float64 `json:"net_profit,omitempty"`

	Status      string `gorm:"size:20;not null;default:open;index" json:"status"`
	CloseReason string `gorm:"size:50" json:"close_reason,omitempty"`
	Paper       bool   `json:"paper"`

	SignalScore      float64 `json:"signal_score"`
	SignalConfidence float64 `json:"signal_confidence"`
	Reasoning        string  `gorm:"type:text" json:"reasoning,omitempty"`

	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Trade) TableName() string {
	return "trades"
}
