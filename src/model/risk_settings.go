package model

import "time"

const (
	ModePaper = "paper"
	ModeLive  = "live"

	AggressivenessConservative = "conservative"
	AggressivenessBalanced     = "balanced"
	AggressivenessAggressive   = "aggressive"
)

// RiskSettings are the operator controlled knobs read at the start of every cycle.
type RiskSettings struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	TradingEnabled bool   `gorm:"not null;default:false" json:"trading_enabled"`
	Mode           string `gorm:"size:10;not null;default:paper" json:"mode"`
	Aggressiveness string `gorm:"size:20;not null;default:balanced" json:"aggressiveness"`

	OrderSize        float64 `gorm:"not null;default:100" json:"order_size"`
	MinOrderSize     float64 `gorm:"not null;default:10" json:"min_order_size"`
	MaxOrderSize     float64 `gorm:"not null;default:1000" json:"max_order_size"`
	ProfitTarget     float64 `gorm:"not null;default:1" json:"profit_target"`
	Leverage         float64 `gorm:"not null;default:1" json:"leverage"`
	MaxOpenPositions int     `gorm:"not null;default:5" json:"max_open_positions"`
	DailyLossLimit   float64 `gorm:"not null;default:50" json:"daily_loss_limit"`
	SessionSizing    bool    `gorm:"not null;default:false" json:"session_sizing"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskSettings) TableName() string {
	return "risk_settings"
}

// IsPaper reports whether orders placed under these settings are simulated.
func (s *RiskSettings) IsPaper() bool {
	return s.Mode != ModeLive
}
