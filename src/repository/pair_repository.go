package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/src/database"
	"papertrader/src/model"
)

// PairRepository reads and seeds the trading pair registry.
type PairRepository struct {
	db *gorm.DB
}

// NewPairRepository creates a new repository instance using the main read/write database.
func NewPairRepository() *PairRepository {
	return &PairRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PairRepository) WithDB(db *gorm.DB) *PairRepository {
	return &PairRepository{db: db}
}

// FindBySymbol fetches one trading pair. Returns (nil, nil) if not found.
func (r *PairRepository) FindBySymbol(ctx context.Context, symbol string) (*model.TradingPair, error) {
	var pair model.TradingPair

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&pair).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "PairRepository",
			"op":     "FindBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch trading pair")

		return nil, err
	}

	return &pair, nil
}

// FindActive returns all tradable pairs ordered by symbol.
func (r *PairRepository) FindActive(ctx context.Context) ([]model.TradingPair, error) {
	var pairs []model.TradingPair

	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("symbol ASC").
		Find(&pairs).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PairRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to fetch trading pairs")

		return nil, err
	}

	return pairs, nil
}

// Upsert inserts or refreshes a pair by symbol. Used by seeding.
func (r *PairRepository) Upsert(ctx context.Context, pair *model.TradingPair) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_asset", "quote_asset", "active", "coingecko_id"}),
		}).
		Create(pair).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PairRepository",
			"op":     "Upsert",
			"symbol": pair.Symbol,
		}).WithError(err).Error("Failed to upsert trading pair")

		return err
	}

	return nil
}
