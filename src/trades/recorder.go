package trades

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrader/src/model"
	"papertrader/src/repository"
)

// decimalPlaces applied at trade value boundaries, banker's rounding.
const decimalPlaces = 8

// Recorder appends immutable trade records. Purely additive; trades are
// never mutated after creation.
type Recorder struct {
	trades *repository.TradeRepository
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{trades: repository.NewTradeRepository().WithDB(db)}
}

// Repository exposes the underlying trade repository for read paths.
func (r *Recorder) Repository() *repository.TradeRepository {
	return r.trades
}

// Record appends the trade produced by settling one order. Exactly one of
// buyOrderID/sellOrderID is set since fills happen against the external
// reference price, never against another user's order.
func (r *Recorder) Record(
	ctx context.Context,
	tx *gorm.DB,
	order *model.Order,
	price decimal.Decimal,
	quantity decimal.Decimal,
) (*model.Trade, error) {

	trade := &model.Trade{
		ID:            uuid.New(),
		Symbol:        order.Symbol,
		Price:         price,
		Quantity:      quantity,
		NotionalValue: price.Mul(quantity).RoundBank(decimalPlaces),
	}

	if order.Side == model.OrderSideBuy {
		trade.BuyOrderID = &order.ID
	} else {
		trade.SellOrderID = &order.ID
	}

	repo := r.trades
	if tx != nil {
		repo = repo.WithDB(tx)
	}

	if err := repo.Create(ctx, trade); err != nil {
		return nil, err
	}

	return trade, nil
}

// MarketStats aggregates OHLC, volume and change for a symbol over a
// lookback window.
type MarketStats struct {
	Symbol        string          `json:"symbol"`
	Timeframe     string          `json:"timeframe"`
	Volume        decimal.Decimal `json:"volume"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	Close         decimal.Decimal `json:"close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	TradeCount    int             `json:"trade_count"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Stats computes market stats for the given timeframe ("1h", "24h", "7d").
func (r *Recorder) Stats(ctx context.Context, symbol string, timeframe string) (*MarketStats, error) {
	now := time.Now()

	var lookback time.Duration
	switch timeframe {
	case "1h":
		lookback = time.Hour
	case "7d":
		lookback = 7 * 24 * time.Hour
	default:
		timeframe = "24h"
		lookback = 24 * time.Hour
	}

	rows, err := r.trades.FindBySymbolSince(ctx, symbol, now.Add(-lookback))
	if err != nil {
		return nil, err
	}

	stats := &MarketStats{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: now,
	}

	if len(rows) == 0 {
		return stats, nil
	}

	stats.Open = rows[0].Price
	stats.Close = rows[len(rows)-1].Price
	stats.High = rows[0].Price
	stats.Low = rows[0].Price
	stats.TradeCount = len(rows)

	for _, trade := range rows {
		stats.Volume = stats.Volume.Add(trade.Quantity)
		if trade.Price.GreaterThan(stats.High) {
			stats.High = trade.Price
		}
		if trade.Price.LessThan(stats.Low) {
			stats.Low = trade.Price
		}
	}

	stats.Change = stats.Close.Sub(stats.Open)
	if stats.Open.IsPositive() {
		stats.ChangePercent = stats.Change.Div(stats.Open).Mul(decimal.NewFromInt(100)).RoundBank(2)
	}

	return stats, nil
}
