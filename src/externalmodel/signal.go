package externalmodel

import "time"

// Signal is a ranked trade candidate produced by the analysis service.
// The analysis database owns the table; this service only reads it.
type Signal struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	Venue      string    `gorm:"column:venue" json:"venue"`
	Symbol     string    `gorm:"column:symbol" json:"symbol"`
	Direction  string    `gorm:"column:direction" json:"direction"`
	Score      float64   `gorm:"column:score" json:"score"`
	Confidence float64   `gorm:"column:confidence" json:"confidence"`
	EntryPrice float64   `gorm:"column:entry_price" json:"entryPrice"`
	TradeType  string    `gorm:"column:trade_type" json:"tradeType"`
	Reasoning  string    `gorm:"column:reasoning" json:"reasoning"`
	Mode       string    `gorm:"column:mode" json:"mode,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName Ensures that GORM uses the exact table name from the database.
func (Signal) TableName() string {
	return "analysis_signals"
}
