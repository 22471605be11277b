package model

import "time"

const (
	PositionStatusOpen     = "open"
	PositionStatusClosing  = "closing"
	PositionStatusClosed   = "closed"
	PositionStatusOrphaned = "orphaned"
	PositionStatusStuck    = "stuck"
)

// Take-profit sub-state of a position.
const (
	TPStatusPending   = "pending"
	TPStatusFilled    = "filled"
	TPStatusCancelled = "cancelled"
	TPStatusError     = "error"
)

const (
	DirectionLong  = "long"
	DirectionShort = "short"

	TradeTypeSpot    = "spot"
	TradeTypeFutures = "futures"
)

// Position is the unit of capital at risk on one venue. Rows are never
// deleted; terminal states are closed, orphaned and stuck.
type Position struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	TradeID uint `gorm:"index" json:"trade_id"`

	Venue     string `gorm:"size:50;not null;index:idx_position_venue_symbol" json:"venue"`
	Symbol    string `gorm:"size:50;not null;index:idx_position_venue_symbol" json:"symbol"`
	Direction string `gorm:"size:10;not null" json:"direction"`
	TradeType string `gorm:"size:10;not null" json:"trade_type"`

	EntryPrice float64 `gorm:"not null" json:"entry_price"`
	Quantity   float64 `gorm:"not null" json:"quantity"`
	Notional   float64 `gorm:"not null" json:"notional"`
	Leverage   float64 `gorm:"not null;default:1" json:"leverage"`

	// ProfitTarget is the net (fees-inclusive) profit in quote currency.
	ProfitTarget        float64 `gorm:"not null" json:"profit_target"`
	EntryFee            float64 `json:"entry_fee"`
	EstimatedFundingFee float64 `json:"estimated_funding_fee"`
	UnrealizedPnl       float64 `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	CurrentPrice        float64 `json:"current_price"`

	EntryOrderID string  `gorm:"size:255" json:"entry_order_id"`
	TPOrderID    string  `gorm:"column:tp_order_id;size:255" json:"tp_order_id"`
	TPPrice      float64 `gorm:"column:tp_price" json:"tp_price"`
	TPStatus     string  `gorm:"column:tp_status;size:20;index" json:"tp_status"`

	Paper        bool   `gorm:"not null;default:false" json:"paper"`
	Status       string `gorm:"size:20;not null;default:open;index" json:"status"`
	StatusReason string `gorm:"size:255" json:"status_reason,omitempty"`

	OpenedAt  time.Time  `json:"opened_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func (Position) TableName() string {
	return "positions"
}

// IsLong reports whether the position profits from a rising price.
func (p *Position) IsLong() bool {
	return p.Direction != DirectionShort
}

// EffectiveLeverage treats spot and unset leverage as 1x.
func (p *Position) EffectiveLeverage() float64 {
	if p.TradeType == TradeTypeSpot || p.Leverage <= 0 {
		return 1
	}
	return p.Leverage
}
