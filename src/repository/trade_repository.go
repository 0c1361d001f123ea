package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/database"
	"papertrader/src/model"
)

// TradeRepository appends and reads immutable trade records.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main read/write database.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create appends one trade. Trades are never updated or deleted.
func (r *TradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(trade).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "Create",
			"symbol": trade.Symbol,
		}).WithError(err).Error("Failed to create trade")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "Create",
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"price":    trade.Price,
		"quantity": trade.Quantity,
	}).Info("Trade recorded")

	return nil
}

// FindRecentBySymbol returns the newest trades for a symbol.
func (r *TradeRepository) FindRecentBySymbol(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 20
	}

	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "FindRecentBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch recent trades")

		return nil, err
	}

	return trades, nil
}

// FindBySymbolSince returns all trades for a symbol since the given time,
// oldest first. Used for market stats aggregation.
func (r *TradeRepository) FindBySymbolSince(ctx context.Context, symbol string, from time.Time) ([]model.Trade, error) {
	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND created_at >= ?", symbol, from).
		Order("created_at ASC").
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "FindBySymbolSince",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch trades for stats")

		return nil, err
	}

	return trades, nil
}

// FindByOrderIDs returns trades referencing any of the given orders.
func (r *TradeRepository) FindByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) ([]model.Trade, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("buy_order_id IN ? OR sell_order_id IN ?", orderIDs, orderIDs).
		Order("created_at DESC").
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindByOrderIDs",
		}).WithError(err).Error("Failed to fetch trades by order IDs")

		return nil, err
	}

	return trades, nil
}
