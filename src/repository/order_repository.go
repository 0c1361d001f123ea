package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/database"
	"papertrader/src/model"
)

// openStatuses are the states a price tick may still act on.
var openStatuses = []string{
	model.OrderStatusNew,
	model.OrderStatusOpen,
	model.OrderStatusPartiallyFilled,
}

// OrderRepository handles read/write operations for orders.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order into the database.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "Create",
			"symbol": order.Symbol,
			"side":   order.Side,
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"type":     order.OrderType,
	}).Info("Order created")

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindOpenBySymbol returns all orders a tick for the symbol may settle,
// oldest first so execution stays deterministic and fair.
func (r *OrderRepository) FindOpenBySymbol(ctx context.Context, symbol string) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND status IN ?", symbol, openStatuses).
		Order("created_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "FindOpenBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch open orders")

		return nil, err
	}

	return orders, nil
}

// TransitionStatus moves an order from one of the given statuses to the new
// status as a single compare-and-swap update. It reports whether this call
// won the transition; false means another writer got there first or the
// order was never in an eligible state.
func (r *OrderRepository) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	from []string,
	to string,
) (bool, error) {

	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "TransitionStatus",
			"id":     id,
			"status": to,
		}).WithError(result.Error).Error("Failed to update order status")

		return false, result.Error
	}

	won := result.RowsAffected > 0
	if won {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "TransitionStatus",
			"id":     id,
			"status": to,
		}).Info("Order status updated")
	}

	return won, nil
}

// TransitionFill records a fill: it bumps filled_quantity, sets the derived
// status and stamps the execution time, all in one compare-and-swap update
// guarded by the order's current open status.
func (r *OrderRepository) TransitionFill(
	ctx context.Context,
	id uuid.UUID,
	filledQuantity decimal.Decimal,
	newStatus string,
	executedAt time.Time,
) (bool, error) {

	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status IN ?", id, openStatuses).
		Updates(map[string]interface{}{
			"filled_quantity": filledQuantity,
			"status":          newStatus,
			"executed_at":     executedAt,
		})

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "TransitionFill",
			"id":     id,
			"status": newStatus,
		}).WithError(result.Error).Error("Failed to record order fill")

		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// OrderSearchOptions narrows down Search results.
type OrderSearchOptions struct {
	UserID        uuid.UUID
	Symbol        *string
	Status        *string
	Limit         int
	Offset        int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Search lists a user's orders newest first with optional filters.
func (r *OrderRepository) Search(ctx context.Context, options OrderSearchOptions) ([]model.Order, error) {
	limit := options.Limit
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", options.UserID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(options.Offset)

	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "Search",
			"user_id": options.UserID,
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}

	return orders, nil
}
