package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/externalmodel"
)

// SignalRepository reads candidate signals from the analysis database.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository uses the ReadOnlyDB connection by default.
func NewSignalRepository() *SignalRepository {
	logger.WithField("component", "SignalRepository").
		Info("Creating new SignalRepository with ReadOnlyDB")

	return &SignalRepository{db: database.ReadOnlyDB}
}

func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// FindRecent returns signals for venues created after since, best score first.
func (r *SignalRepository) FindRecent(ctx context.Context, venues []string, since time.Time, limit int) ([]externalmodel.Signal, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []externalmodel.Signal
	q := r.db.WithContext(ctx).Where("created_at >= ?", since.UTC())
	if len(venues) > 0 {
		q = q.Where("venue IN ?", venues)
	}
	err := q.Order("score DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindRecent",
		}).WithError(err).Error("Failed to fetch recent signals")
		return nil, err
	}
	return out, nil
}
