package model

import "time"

// Exception is an unexpected failure persisted for later inspection.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "tradeexecutor"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "controller"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "Close"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
