package migrations

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration is the applied-migration ledger.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// RunOnce applies fn in a transaction together with its ledger row, so a
// failed migration leaves no trace and is retried on the next start.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if migrationID == "" || fn == nil {
		return fmt.Errorf("invalid migration %q", migrationID)
	}

	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var applied int64
		if err := tx.Model(&DataMigration{}).Where("id = ?", migrationID).Count(&applied).Error; err != nil {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}
		if applied > 0 {
			return nil
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		return tx.Create(&DataMigration{ID: migrationID, AppliedAt: time.Now().UTC()}).Error
	})
}

// Migration is one data change applied after the schema auto-migration.
type Migration struct {
	ID string
	Up func(*gorm.DB) error
}

// All lists the data migrations in order. Append only; ids are stable.
var All = []Migration{
	{ID: "00001_seed_loop_lock", Up: seedLoopLock},
	{ID: "00002_seed_default_risk_settings", Up: seedDefaultRiskSettings},
	{ID: "00003_unique_active_position", Up: uniqueActivePosition},
}

// Run applies every pending migration of All.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	for _, m := range All {
		if err := RunOnce(db, m.ID, m.Up); err != nil {
			return err
		}
		logrus.WithField("migration", m.ID).Debug("[migrations] up to date")
	}
	return nil
}
