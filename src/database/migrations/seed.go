package migrations

import "gorm.io/gorm"

// The seeds write through table names rather than model types so this
// package does not import model (model tables are migrated by the caller).

func seedLoopLock(tx *gorm.DB) error {
	return tx.Exec("INSERT INTO loop_locks (id, locked_at, locked_by) VALUES (1, NULL, '')").Error
}

func seedDefaultRiskSettings(tx *gorm.DB) error {
	var count int64
	if err := tx.Table("risk_settings").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return tx.Exec(`INSERT INTO risk_settings
		(trading_enabled, mode, aggressiveness, order_size, min_order_size, max_order_size,
		 profit_target, leverage, max_open_positions, daily_loss_limit, session_sizing)
		VALUES (false, 'paper', 'balanced', 100, 10, 1000, 1, 1, 5, 50, false)`).Error
}

// uniqueActivePosition allows one open or closing position per venue and
// symbol. Partial indexes are supported by both postgres and sqlite.
func uniqueActivePosition(tx *gorm.DB) error {
	return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_active_venue_symbol
		ON positions (venue, symbol) WHERE status IN ('open', 'closing')`).Error
}
