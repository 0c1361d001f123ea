package orders_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/src/database"
	"papertrader/src/model"
	"papertrader/src/orders"
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

func newLimitOrder(t *testing.T, svc *orders.Service, status string) *model.Order {
	t.Helper()

	price := d("50000")
	order := &model.Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeLimit,
		Price:     &price,
		Quantity:  d("0.01"),
	}
	require.NoError(t, svc.Create(context.Background(), order))

	if status != model.OrderStatusNew {
		require.NoError(t, svc.Transition(context.Background(), order, model.OrderStatusOpen))
	}
	if status != model.OrderStatusNew && status != model.OrderStatusOpen {
		require.NoError(t, svc.Transition(context.Background(), order, status))
	}

	return order
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    string
		to      string
		allowed bool
	}{
		{model.OrderStatusNew, model.OrderStatusOpen, true},
		{model.OrderStatusNew, model.OrderStatusCancelled, true},
		{model.OrderStatusNew, model.OrderStatusRejected, true},
		{model.OrderStatusNew, model.OrderStatusFilled, false},
		{model.OrderStatusOpen, model.OrderStatusPartiallyFilled, true},
		{model.OrderStatusOpen, model.OrderStatusFilled, true},
		{model.OrderStatusOpen, model.OrderStatusCancelled, true},
		{model.OrderStatusOpen, model.OrderStatusRejected, true},
		{model.OrderStatusOpen, model.OrderStatusNew, false},
		{model.OrderStatusPartiallyFilled, model.OrderStatusFilled, true},
		{model.OrderStatusPartiallyFilled, model.OrderStatusCancelled, true},
		{model.OrderStatusPartiallyFilled, model.OrderStatusRejected, false},
		{model.OrderStatusFilled, model.OrderStatusCancelled, false},
		{model.OrderStatusFilled, model.OrderStatusOpen, false},
		{model.OrderStatusCancelled, model.OrderStatusOpen, false},
		{model.OrderStatusRejected, model.OrderStatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			require.Equal(t, tt.allowed, orders.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_IllegalFails(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusNew)

	err := svc.Transition(ctx, order, model.OrderStatusFilled)
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)
	require.Equal(t, model.OrderStatusNew, order.Status)
}

func TestTransition_TerminalIsClosed(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusCancelled)

	for _, to := range []string{
		model.OrderStatusOpen,
		model.OrderStatusFilled,
		model.OrderStatusRejected,
	} {
		err := svc.Transition(ctx, order, to)
		require.ErrorIs(t, err, model.ErrInvalidStateTransition, "cancelled -> %s", to)
	}
}

func TestTransition_StaleWriterLosesSwap(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusOpen)

	// A second in-memory copy still believing the order is open.
	stale, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Transition(ctx, order, model.OrderStatusCancelled))

	err = svc.Transition(ctx, stale, model.OrderStatusFilled)
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestFill_PartialThenComplete(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusOpen)
	now := time.Now()

	require.NoError(t, svc.Fill(ctx, nil, order, d("0.004"), now))
	require.Equal(t, model.OrderStatusPartiallyFilled, order.Status)
	require.True(t, order.RemainingQuantity().Equal(d("0.006")))

	require.NoError(t, svc.Fill(ctx, nil, order, d("0.006"), now))
	require.Equal(t, model.OrderStatusFilled, order.Status)
	require.True(t, order.RemainingQuantity().IsZero())
	require.NotNil(t, order.ExecutedAt)
}

func TestFill_OverFillRefused(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusOpen)

	err := svc.Fill(ctx, nil, order, d("0.011"), time.Now())
	require.ErrorIs(t, err, model.ErrOverFill)
	require.Equal(t, model.OrderStatusOpen, order.Status)
	require.True(t, order.FilledQuantity.IsZero())
}

func TestFill_TerminalOrderRefused(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)
	ctx := context.Background()

	order := newLimitOrder(t, svc, model.OrderStatusOpen)
	require.NoError(t, svc.Fill(ctx, nil, order, d("0.01"), time.Now()))
	require.Equal(t, model.OrderStatusFilled, order.Status)

	err := svc.Fill(ctx, nil, order, d("0.01"), time.Now())
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestGet_MissingOrder(t *testing.T) {
	db := setupDB(t)
	svc := orders.NewService(db, nil)

	_, err := svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, model.ErrOrderNotFound)
}
