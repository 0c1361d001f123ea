package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"papertrader/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func orderRows(returned ...model.Order) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "symbol", "side", "order_type", "price",
		"quantity", "filled_quantity", "status", "executed_at", "created_at", "updated_at",
	})
	for _, order := range returned {
		var price interface{}
		if order.Price != nil {
			price = order.Price.String()
		}
		rows.AddRow(
			order.ID, order.UserID, order.Symbol, order.Side, order.OrderType, price,
			order.Quantity.String(), order.FilledQuantity.String(), order.Status,
			order.ExecutedAt, order.CreatedAt, order.UpdatedAt,
		)
	}
	return rows
}

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	userID := uuid.New()
	createdAt := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	price := decimal.RequireFromString("50000")
	orders := []model.Order{
		{
			ID: uuid.New(), UserID: userID, Symbol: "BTCUSDT",
			Side: model.OrderSideBuy, OrderType: model.OrderTypeLimit, Price: &price,
			Quantity: decimal.RequireFromString("0.01"), FilledQuantity: decimal.Zero,
			Status: model.OrderStatusOpen, CreatedAt: createdAt, UpdatedAt: createdAt,
		},
		{
			ID: uuid.New(), UserID: userID, Symbol: "ETHUSDT",
			Side: model.OrderSideSell, OrderType: model.OrderTypeMarket,
			Quantity: decimal.RequireFromString("1"), FilledQuantity: decimal.RequireFromString("1"),
			Status: model.OrderStatusFilled, CreatedAt: createdAt.Add(time.Hour), UpdatedAt: createdAt.Add(time.Hour),
		},
	}

	t.Run("filters by user", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`)).
			WithArgs(userID, 50).
			WillReturnRows(orderRows(orders[1], orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: userID})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(results))
		}

		if results[0].Symbol != "ETHUSDT" || results[1].Symbol != "BTCUSDT" {
			t.Fatalf("orders not returned in expected order: %+v", results)
		}
	})

	t.Run("filters by symbol and status", func(t *testing.T) {
		symbol := "BTCUSDT"
		status := model.OrderStatusOpen

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 AND symbol = $2 AND status = $3 ORDER BY created_at DESC, id DESC LIMIT $4`)).
			WithArgs(userID, symbol, status, 50).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{
			UserID: userID,
			Symbol: &symbol,
			Status: &status,
		})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 1 || results[0].Symbol != "BTCUSDT" {
			t.Fatalf("unexpected search result: %+v", results)
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(userID, 1, 1).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: userID, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 order for pagination, got %d", len(results))
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryFindOpenBySymbol(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	createdAt := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	price := decimal.RequireFromString("50000")
	older := model.Order{
		ID: uuid.New(), UserID: uuid.New(), Symbol: "BTCUSDT",
		Side: model.OrderSideBuy, OrderType: model.OrderTypeLimit, Price: &price,
		Quantity: decimal.RequireFromString("0.01"), FilledQuantity: decimal.Zero,
		Status: model.OrderStatusOpen, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	newer := older
	newer.ID = uuid.New()
	newer.CreatedAt = createdAt.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE symbol = $1 AND status IN ($2,$3,$4) ORDER BY created_at ASC, id ASC`)).
		WithArgs("BTCUSDT", model.OrderStatusNew, model.OrderStatusOpen, model.OrderStatusPartiallyFilled).
		WillReturnRows(orderRows(older, newer))

	results, err := repo.FindOpenBySymbol(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error fetching open orders: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(results))
	}
	if results[0].ID != older.ID {
		t.Fatalf("open orders must come back oldest first")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryTransitionStatus(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	orderID := uuid.New()

	t.Run("wins the swap", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		won, err := repo.TransitionStatus(context.Background(), orderID, []string{model.OrderStatusOpen}, model.OrderStatusCancelled)
		if err != nil {
			t.Fatalf("unexpected error transitioning status: %v", err)
		}
		if !won {
			t.Fatal("expected the transition to win")
		}
	})

	t.Run("loses the swap when no row matches", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		won, err := repo.TransitionStatus(context.Background(), orderID, []string{model.OrderStatusOpen}, model.OrderStatusFilled)
		if err != nil {
			t.Fatalf("unexpected error transitioning status: %v", err)
		}
		if won {
			t.Fatal("a stale writer must not win the transition")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryTransitionFill(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	won, err := repo.TransitionFill(
		context.Background(),
		uuid.New(),
		decimal.RequireFromString("0.01"),
		model.OrderStatusFilled,
		time.Now(),
	)
	if err != nil {
		t.Fatalf("unexpected error recording fill: %v", err)
	}
	if won {
		t.Fatal("fill against a terminal order must lose the swap")
	}
}
