package model

import "time"

// VenueConnection holds the encrypted credentials for one exchange account.
type VenueConnection struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Venue             string    `gorm:"size:50;not null;uniqueIndex" json:"venue"`
	APIKeyHash        string    `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash     string    `gorm:"column:api_secret;type:text" json:"-"`
	APIPassphraseHash string    `gorm:"column:api_passphrase;type:text" json:"-"`
	DefaultTradeType  string    `gorm:"size:10;not null;default:spot" json:"default_trade_type"`
	BaseURL           string    `gorm:"size:255" json:"base_url,omitempty"`
	Connected         bool      `gorm:"not null;default:false" json:"connected"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (VenueConnection) TableName() string {
	return "venue_connections"
}
