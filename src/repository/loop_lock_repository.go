package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// LoopLockRepository is the durable single-flight lock of the trading loop.
type LoopLockRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLoopLockRepository() *LoopLockRepository {
	return &LoopLockRepository{db: database.MainDB, now: time.Now}
}

func (r *LoopLockRepository) WithDB(db *gorm.DB) *LoopLockRepository {
	return &LoopLockRepository{db: db, now: r.clock()}
}

// WithClock overrides the time source.
func (r *LoopLockRepository) WithClock(now func() time.Time) *LoopLockRepository {
	return &LoopLockRepository{db: r.db, now: now}
}

func (r *LoopLockRepository) clock() func() time.Time {
	if r.now == nil {
		return time.Now
	}
	return r.now
}

// Acquire takes the lock for owner when it is free or older than ttl.
// The read and the write are a single conditional UPDATE.
func (r *LoopLockRepository) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := r.clock()().UTC()
	staleBefore := now.Add(-ttl)

	for attempt := 0; attempt < 2; attempt++ {
		res := r.db.WithContext(ctx).Model(&model.LoopLock{}).
			Where("id = ? AND (locked_at IS NULL OR locked_at < ?)", model.LoopLockID, staleBefore).
			Updates(map[string]interface{}{
				"locked_at": now,
				"locked_by": owner,
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			logger.WithFields(map[string]interface{}{
				"repo":  "LoopLockRepository",
				"op":    "Acquire",
				"owner": owner,
			}).Debug("Loop lock acquired")
			return true, nil
		}

		var rows int64
		if err := r.db.WithContext(ctx).Model(&model.LoopLock{}).Where("id = ?", model.LoopLockID).Count(&rows).Error; err != nil {
			return false, err
		}
		if rows > 0 {
			return false, nil
		}
		// The seed row is missing; create it and try once more.
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.LoopLock{ID: model.LoopLockID}).Error; err != nil {
			return false, err
		}
	}
	return false, nil
}

// Release clears the lock if owner still holds it.
func (r *LoopLockRepository) Release(ctx context.Context, owner string) error {
	res := r.db.WithContext(ctx).Model(&model.LoopLock{}).
		Where("id = ? AND locked_by = ?", model.LoopLockID, owner).
		Updates(map[string]interface{}{
			"locked_at": nil,
			"locked_by": "",
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "LoopLockRepository",
			"op":    "Release",
			"owner": owner,
		}).WithError(res.Error).Error("Failed to release loop lock")
		return res.Error
	}
	return nil
}

// Get returns the current lock row.
func (r *LoopLockRepository) Get(ctx context.Context) (*model.LoopLock, error) {
	var l model.LoopLock
	if err := r.db.WithContext(ctx).First(&l, model.LoopLockID).Error; err != nil {
		return nil, err
	}
	return &l, nil
}
