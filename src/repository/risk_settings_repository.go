package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

type RiskSettingsRepository struct {
	db *gorm.DB
}

func NewRiskSettingsRepository() *RiskSettingsRepository {
	return &RiskSettingsRepository{db: database.MainDB}
}

func (r *RiskSettingsRepository) WithDB(db *gorm.DB) *RiskSettingsRepository {
	return &RiskSettingsRepository{db: db}
}

// Get returns the active settings row, or (nil, nil) when none is configured.
func (r *RiskSettingsRepository) Get(ctx context.Context) (*model.RiskSettings, error) {
	var s model.RiskSettings
	err := r.db.WithContext(ctx).Order("id ASC").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "RiskSettingsRepository",
			"op":   "Get",
		}).WithError(err).Error("Failed to load risk settings")
		return nil, err
	}
	return &s, nil
}

func (r *RiskSettingsRepository) Save(ctx context.Context, s *model.RiskSettings) error {
	return r.db.WithContext(ctx).Save(s).Error
}
