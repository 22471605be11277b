package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

type DailyStatsRepository struct {
	db *gorm.DB
}

func NewDailyStatsRepository() *DailyStatsRepository {
	return &DailyStatsRepository{db: database.MainDB}
}

func (r *DailyStatsRepository) WithDB(db *gorm.DB) *DailyStatsRepository {
	return &DailyStatsRepository{db: db}
}

// Get returns the stats of day, zero valued when nothing closed yet.
func (r *DailyStatsRepository) Get(ctx context.Context, day string) (*model.DailyStats, error) {
	var s model.DailyStats
	err := r.db.WithContext(ctx).Where("date = ?", day).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.DailyStats{Date: day}, nil
		}
		return nil, err
	}
	return &s, nil
}
