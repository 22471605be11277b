package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// OrderExecutionLogRepository stores the audit trail of venue order calls.
type OrderExecutionLogRepository struct {
	db *gorm.DB
}

func NewOrderExecutionLogRepository() *OrderExecutionLogRepository {
	return &OrderExecutionLogRepository{db: database.MainDB}
}

func (r *OrderExecutionLogRepository) WithDB(db *gorm.DB) *OrderExecutionLogRepository {
	return &OrderExecutionLogRepository{db: db}
}

func (r *OrderExecutionLogRepository) Create(ctx context.Context, entry *model.OrderExecutionLog) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "OrderExecutionLogRepository",
		"op":          "Create",
		"position_id": entry.PositionID,
		"purpose":     entry.Purpose,
		"status":      entry.Status,
	}).Debug("Creating order execution log")

	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByPosition lists the audit rows of one position in call order.
func (r *OrderExecutionLogRepository) FindByPosition(ctx context.Context, positionID uint) ([]model.OrderExecutionLog, error) {
	var out []model.OrderExecutionLog
	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
