package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// exceptionDedupeWindow keeps a failure that repeats every cycle from
// writing one row per cycle.
const exceptionDedupeWindow = 5 * time.Minute

type ExceptionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{db: database.MainDB, now: time.Now}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db, now: r.now}
}

// Create persists the exception unless the same module, method and message
// were already recorded inside the dedupe window.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = now()
	}
	log := logger.WithFields(map[string]interface{}{
		"repo":   "ExceptionRepository",
		"op":     "Create",
		"module": exc.Module,
		"method": exc.Method,
	})

	var recent int64
	err := r.db.WithContext(ctx).Model(&model.Exception{}).
		Where("module = ? AND method = ? AND message = ? AND created_at >= ?",
			exc.Module, exc.Method, exc.Message, exc.CreatedAt.Add(-exceptionDedupeWindow)).
		Count(&recent).Error
	if err != nil {
		return err
	}
	if recent > 0 {
		log.Debug("Exception already recorded recently, skipping")
		return nil
	}

	log.Info("Persisting system exception")
	return r.db.WithContext(ctx).Create(exc).Error
}
