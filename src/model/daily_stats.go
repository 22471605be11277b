package model

import "time"

// DailyStatsDateLayout is the UTC day key used by DailyStats.
const DailyStatsDateLayout = "2006-01-02"

// DailyStats aggregates closed trades per UTC day.
type DailyStats struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Date         string    `gorm:"size:10;not null;uniqueIndex" json:"date"`
	TradesClosed int       `gorm:"not null;default:0" json:"trades_closed"`
	Wins         int       `gorm:"not null;default:0" json:"wins"`
	Losses       int       `gorm:"not null;default:0" json:"losses"`
	GrossProfit  float64   `gorm:"not null;default:0" json:"gross_profit"`
	Fees         float64   `gorm:"not null;default:0" json:"fees"`
	NetProfit    float64   `gorm:"not null;default:0" json:"net_profit"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (DailyStats) TableName() string {
	return "daily_stats"
}

// DayKey returns the DailyStats key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DailyStatsDateLayout)
}
