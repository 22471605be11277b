package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrDuplicateOpenPosition = errors.New("an open position already exists for venue and symbol")
	// ErrPositionNotClaimed is returned by FinalizeClose when the row is no longer closing.
	ErrPositionNotClaimed = errors.New("position is not claimed for closing")
)

// activeStatuses hold capital on the venue and count against the open limits.
var activeStatuses = []string{model.PositionStatusOpen, model.PositionStatusClosing}

// CloseOutcome is the realized result written when a position closes.
type CloseOutcome struct {
	ExitPrice   float64
	Quantity    float64
	GrossProfit float64
	EntryFee    float64
	ExitFee     float64
	FundingFee  float64
	NetProfit   float64
	Reason      string
	TPStatus    string
	ClosedAt    time.Time
}

// PositionRepository owns positions and their trades.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// CreateOpened writes the trade and its position in one transaction.
func (r *PositionRepository) CreateOpened(ctx context.Context, trade *model.Trade, pos *model.Position) error {
	log := logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "CreateOpened",
		"venue":  pos.Venue,
		"symbol": pos.Symbol,
	})

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.Position{}).
			Where("venue = ? AND symbol = ? AND status IN ?", pos.Venue, pos.Symbol, activeStatuses).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateOpenPosition
		}

		if trade.Status == "" {
			trade.Status = model.TradeStatusOpen
		}
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("create trade: %w", err)
		}

		pos.TradeID = trade.ID
		if pos.Status == "" {
			pos.Status = model.PositionStatusOpen
		}
		if err := tx.Create(pos).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateOpenPosition
			}
			return fmt.Errorf("create position: %w", err)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to create opened position")
		return err
	}

	log.WithFields(logger.Fields{
		"position_id": pos.ID,
		"trade_id":    trade.ID,
	}).Info("Position opened")
	return nil
}

// FindByID returns ErrPositionNotFound when no row matches.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).First(&pos, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch position by ID")
		return nil, err
	}
	return &pos, nil
}

// FindOpen lists positions in the open state, oldest first.
func (r *PositionRepository) FindOpen(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PositionStatusOpen).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *PositionRepository) FindOpenByVenue(ctx context.Context, venue string) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("venue = ? AND status = ?", venue, model.PositionStatusOpen).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// FindOpenBySymbol returns (nil, nil) when the venue holds no active position for symbol.
func (r *PositionRepository) FindOpenBySymbol(ctx context.Context, venue, symbol string) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).
		Where("venue = ? AND symbol = ? AND status IN ?", venue, symbol, activeStatuses).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

// CountOpen counts positions holding capital (open or mid-close).
func (r *PositionRepository) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Position{}).
		Where("status IN ?", activeStatuses).
		Count(&n).Error
	return n, err
}

// FindByTPStatus lists open positions whose take-profit is in status.
func (r *PositionRepository) FindByTPStatus(ctx context.Context, status string) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("status = ? AND tp_status = ?", model.PositionStatusOpen, status).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// TransitionStatus moves a position from one status to another only if it
// is still in from. It reports false when another caller got there first.
func (r *PositionRepository) TransitionStatus(ctx context.Context, id uint, from, to, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Position{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":        to,
			"status_reason": reason,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "TransitionStatus",
			"position_id": id,
			"from":        from,
			"to":          to,
		}).WithError(res.Error).Error("Failed to transition position")
		return false, res.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "TransitionStatus",
		"position_id": id,
		"from":        from,
		"to":          to,
		"applied":     res.RowsAffected == 1,
	}).Debug("Position transition attempted")

	return res.RowsAffected == 1, nil
}

// UpdateMarket stores the latest observed price and net PnL.
func (r *PositionRepository) UpdateMarket(ctx context.Context, id uint, price, pnl float64) error {
	return r.update(ctx, id, map[string]interface{}{
		"current_price":  price,
		"unrealized_pnl": pnl,
	})
}

func (r *PositionRepository) UpdateQuantity(ctx context.Context, id uint, quantity, notional float64) error {
	return r.update(ctx, id, map[string]interface{}{
		"quantity": quantity,
		"notional": notional,
	})
}

func (r *PositionRepository) UpdateTakeProfit(ctx context.Context, id uint, orderID string, price float64, status string) error {
	return r.update(ctx, id, map[string]interface{}{
		"tp_order_id": orderID,
		"tp_price":    price,
		"tp_status":   status,
	})
}

func (r *PositionRepository) UpdateTPStatus(ctx context.Context, id uint, status string) error {
	return r.update(ctx, id, map[string]interface{}{"tp_status": status})
}

func (r *PositionRepository) update(ctx context.Context, id uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Position{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// FinalizeClose closes a claimed position, its trade and the day's stats in
// one transaction.
func (r *PositionRepository) FinalizeClose(ctx context.Context, pos *model.Position, out CloseOutcome) error {
	if out.ClosedAt.IsZero() {
		out.ClosedAt = time.Now().UTC()
	}
	closedAt := out.ClosedAt.UTC()
	log := logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "FinalizeClose",
		"position_id": pos.ID,
	})

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posFields := map[string]interface{}{
			"status":         model.PositionStatusClosed,
			"status_reason":  out.Reason,
			"current_price":  out.ExitPrice,
			"unrealized_pnl": out.NetProfit,
			"closed_at":      closedAt,
			"updated_at":     closedAt,
		}
		if out.TPStatus != "" {
			posFields["tp_status"] = out.TPStatus
		}
		res := tx.Model(&model.Position{}).
			Where("id = ? AND status = ?", pos.ID, model.PositionStatusClosing).
			Updates(posFields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPositionNotClaimed
		}

		if err := tx.Model(&model.Trade{}).Where("id = ?", pos.TradeID).
			Updates(map[string]interface{}{
				"exit_price":   out.ExitPrice,
				"quantity":     out.Quantity,
				"entry_fee":    out.EntryFee,
				"exit_fee":     out.ExitFee,
				"funding_fee":  out.FundingFee,
				"gross_profit": out.GrossProfit,
				"net_profit":   out.NetProfit,
				"status":       model.TradeStatusClosed,
				"close_reason": out.Reason,
				"closed_at":    closedAt,
			}).Error; err != nil {
			return fmt.Errorf("close trade: %w", err)
		}

		return addDailyStats(tx, closedAt, out)
	})
	if err != nil {
		log.WithError(err).Error("Failed to finalize close")
		return err
	}

	log.WithFields(logger.Fields{
		"exit_price": out.ExitPrice,
		"net_profit": out.NetProfit,
		"reason":     out.Reason,
	}).Info("Position closed")
	return nil
}

// addDailyStats seeds the day's row if needed and increments it in place.
func addDailyStats(tx *gorm.DB, at time.Time, out CloseOutcome) error {
	day := model.DayKey(at)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoNothing: true,
	}).Create(&model.DailyStats{Date: day, UpdatedAt: at}).Error; err != nil {
		return fmt.Errorf("seed daily stats: %w", err)
	}

	win, loss := 0, 1
	if out.NetProfit > 0 {
		win, loss = 1, 0
	}
	fees := out.EntryFee + out.ExitFee + out.FundingFee

	return tx.Model(&model.DailyStats{}).Where("date = ?", day).
		Updates(map[string]interface{}{
			"trades_closed": gorm.Expr("trades_closed + ?", 1),
			"wins":          gorm.Expr("wins + ?", win),
			"losses":        gorm.Expr("losses + ?", loss),
			"gross_profit":  gorm.Expr("gross_profit + ?", out.GrossProfit),
			"fees":          gorm.Expr("fees + ?", fees),
			"net_profit":    gorm.Expr("net_profit + ?", out.NetProfit),
			"updated_at":    at,
		}).Error
}

// FindTrade returns the trade twin of a position.
func (r *PositionRepository) FindTrade(ctx context.Context, tradeID uint) (*model.Trade, error) {
	var t model.Trade
	if err := r.db.WithContext(ctx).First(&t, tradeID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
