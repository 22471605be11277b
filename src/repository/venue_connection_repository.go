package repository

import (
	"context"
	"errors"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

type VenueConnectionRepository struct {
	db *gorm.DB
}

func NewVenueConnectionRepository() *VenueConnectionRepository {
	return &VenueConnectionRepository{db: database.MainDB}
}

func (r *VenueConnectionRepository) WithDB(db *gorm.DB) *VenueConnectionRepository {
	return &VenueConnectionRepository{db: db}
}

func (r *VenueConnectionRepository) ListConnected(ctx context.Context) ([]model.VenueConnection, error) {
	var out []model.VenueConnection
	err := r.db.WithContext(ctx).
		Where("connected = ?", true).
		Order("venue ASC").
		Find(&out).Error
	return out, err
}

// GetByVenue returns (nil, nil) when the venue has no row.
func (r *VenueConnectionRepository) GetByVenue(ctx context.Context, venue string) (*model.VenueConnection, error) {
	var c model.VenueConnection
	err := r.db.WithContext(ctx).Where("venue = ?", strings.ToLower(venue)).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or replaces the credentials of a venue.
func (r *VenueConnectionRepository) Upsert(ctx context.Context, c *model.VenueConnection) error {
	c.Venue = strings.ToLower(c.Venue)

	logger.WithFields(map[string]interface{}{
		"repo":  "VenueConnectionRepository",
		"op":    "Upsert",
		"venue": c.Venue,
	}).Info("Upserting venue connection")

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "venue"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"api_key", "api_secret", "api_passphrase", "default_trade_type", "base_url", "connected", "updated_at",
		}),
	}).Create(c).Error
}
