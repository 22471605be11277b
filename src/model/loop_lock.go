package model

import "time"

// LoopLockID is the primary key of the only lock row.
const LoopLockID = 1

// LoopLock arbitrates the trading cycle between invocations.
type LoopLock struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	LockedAt *time.Time `json:"locked_at"`
	LockedBy string     `gorm:"size:100" json:"locked_by"`
}

func (LoopLock) TableName() string {
	return "loop_locks"
}
