package trades_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/src/database"
	"papertrader/src/model"
	"papertrader/src/trades"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func record(t *testing.T, recorder *trades.Recorder, side, price, quantity string) *model.Trade {
	t.Helper()
	order := &model.Order{
		ID:     uuid.New(),
		Symbol: "BTCUSDT",
		Side:   side,
	}
	trade, err := recorder.Record(context.Background(), nil, order, d(price), d(quantity))
	require.NoError(t, err)
	return trade
}

func TestRecord_SetsExactlyOneOrderSide(t *testing.T) {
	db := setupDB(t)
	recorder := trades.NewRecorder(db)

	buy := record(t, recorder, model.OrderSideBuy, "50000", "0.01")
	require.NotNil(t, buy.BuyOrderID)
	require.Nil(t, buy.SellOrderID)
	require.True(t, buy.NotionalValue.Equal(d("500")))

	sell := record(t, recorder, model.OrderSideSell, "50000", "0.02")
	require.Nil(t, sell.BuyOrderID)
	require.NotNil(t, sell.SellOrderID)
	require.True(t, sell.NotionalValue.Equal(d("1000")))
}

func TestStats_AggregatesWindow(t *testing.T) {
	db := setupDB(t)
	recorder := trades.NewRecorder(db)

	record(t, recorder, model.OrderSideBuy, "100", "1")
	record(t, recorder, model.OrderSideSell, "110", "2")
	record(t, recorder, model.OrderSideBuy, "90", "1")
	record(t, recorder, model.OrderSideBuy, "105", "0.5")

	stats, err := recorder.Stats(context.Background(), "BTCUSDT", "24h")
	require.NoError(t, err)

	require.Equal(t, "BTCUSDT", stats.Symbol)
	require.Equal(t, 4, stats.TradeCount)
	require.True(t, stats.Open.Equal(d("100")), "open=%s", stats.Open)
	require.True(t, stats.Close.Equal(d("105")), "close=%s", stats.Close)
	require.True(t, stats.High.Equal(d("110")))
	require.True(t, stats.Low.Equal(d("90")))
	require.True(t, stats.Volume.Equal(d("4.5")))
	require.True(t, stats.Change.Equal(d("5")))
	require.True(t, stats.ChangePercent.Equal(d("5")), "changePercent=%s", stats.ChangePercent)
}

func TestStats_EmptyWindow(t *testing.T) {
	db := setupDB(t)
	recorder := trades.NewRecorder(db)

	stats, err := recorder.Stats(context.Background(), "ETHUSDT", "1h")
	require.NoError(t, err)
	require.Equal(t, 0, stats.TradeCount)
	require.True(t, stats.Volume.IsZero())
}

func TestStats_UnknownTimeframeDefaultsTo24h(t *testing.T) {
	db := setupDB(t)
	recorder := trades.NewRecorder(db)

	stats, err := recorder.Stats(context.Background(), "BTCUSDT", "bogus")
	require.NoError(t, err)
	require.Equal(t, "24h", stats.Timeframe)
}
