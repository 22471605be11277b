package database

import (
	"fmt"
	"time"

	"tradeexecutor/src/database/migrations"
	"tradeexecutor/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// Models lists every table owned by the main database.
func Models() []interface{} {
	return []interface{}{
		&model.Trade{},
		&model.Position{},
		&model.LoopLock{},
		&model.RiskSettings{},
		&model.VenueConnection{},
		&model.DailyStats{},
		&model.OrderExecutionLog{},
		&model.Exception{},
		&migrations.DataMigration{},
	}
}

// InitMainDB opens the main database, migrates the schema and runs data migrations.
// It must be called once at startup before any repository is built.
func InitMainDB() error {
	config := GetConfig()

	var dialector gorm.Dialector
	switch config.Driver {
	case "sqlite":
		dialector = sqlite.Open(config.SQLitePath)
	case "postgres", "":
		dialector = postgres.Open(config.DatabaseURLMain)
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := Migrate(db); err != nil {
		return err
	}

	MainDB = db
	logrus.WithField("driver", config.Driver).Info("[database] MainDB connection established")

	return nil
}

// Migrate runs AutoMigrate for the write-side schema followed by the data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}

	logrus.Info("[database] MainDB migrations completed")
	return nil
}
