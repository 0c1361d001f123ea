package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/events"
	"papertrader/src/model"
	"papertrader/src/repository"
)

// transitions is the central legal-transition table of the order state
// machine. Filled, cancelled and rejected are terminal.
var transitions = map[string][]string{
	model.OrderStatusNew: {
		model.OrderStatusOpen,
		model.OrderStatusCancelled,
		model.OrderStatusRejected,
	},
	model.OrderStatusOpen: {
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
		model.OrderStatusRejected,
	},
	model.OrderStatusPartiallyFilled: {
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
	},
	model.OrderStatusFilled:    {},
	model.OrderStatusCancelled: {},
	model.OrderStatusRejected:  {},
}

// CanTransition reports whether the state machine allows moving an order
// from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service owns order records and enforces the status state machine. All
// status writes are compare-and-swap updates, so under concurrent
// settlement triggers exactly one writer wins.
type Service struct {
	orders *repository.OrderRepository
	events *events.Dispatcher
}

func NewService(db *gorm.DB, dispatcher *events.Dispatcher) *Service {
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}

	return &Service{
		orders: repository.NewOrderRepository().WithDB(db),
		events: dispatcher,
	}
}

// Repository exposes the underlying order repository for read paths.
func (s *Service) Repository() *repository.OrderRepository {
	return s.orders
}

// Get fetches an order, failing with ErrOrderNotFound when missing.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, model.ErrOrderNotFound
	}
	return order, nil
}

// Create persists a fresh order in status NEW.
func (s *Service) Create(ctx context.Context, order *model.Order) error {
	order.Status = model.OrderStatusNew
	order.FilledQuantity = decimal.Zero
	return s.orders.Create(ctx, order)
}

// Transition moves the order to a new status after consulting the legal
// transition table. An illegal transition, or losing the compare-and-swap
// against a concurrent writer, fails with ErrInvalidStateTransition and
// performs no mutation.
func (s *Service) Transition(ctx context.Context, order *model.Order, to string) error {
	if !CanTransition(order.Status, to) {
		logger.WithFields(map[string]interface{}{
			"component": "orders",
			"order_id":  order.ID,
			"from":      order.Status,
			"to":        to,
		}).Warn("illegal order status transition refused")

		return model.ErrInvalidStateTransition
	}

	won, err := s.orders.TransitionStatus(ctx, order.ID, []string{order.Status}, to)
	if err != nil {
		return err
	}
	if !won {
		return model.ErrInvalidStateTransition
	}

	old := order.Status
	order.Status = to

	s.events.Publish(events.OrderStatusChanged{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		OldStatus: old,
		NewStatus: to,
	})

	return nil
}

// Fill is the quantity-aware settlement primitive. It accumulates
// filledQuantity, fails with ErrOverFill when the cumulative fill would
// exceed the order quantity, and derives the resulting status
// (PARTIALLY_FILLED or FILLED). The write is a compare-and-swap guarded by
// the order's open status; losing the swap fails with
// ErrInvalidStateTransition so duplicate settlement triggers no-op.
//
// Fill does not publish OrderStatusChanged itself: it usually runs inside
// the settlement transaction and the caller publishes after commit.
func (s *Service) Fill(
	ctx context.Context,
	tx *gorm.DB,
	order *model.Order,
	fillQuantity decimal.Decimal,
	executedAt time.Time,
) error {

	if order.IsTerminal() {
		return model.ErrInvalidStateTransition
	}
	if !fillQuantity.IsPositive() {
		return model.ErrInvalidQuantity
	}

	newFilled := order.FilledQuantity.Add(fillQuantity)
	if newFilled.GreaterThan(order.Quantity) {
		return model.ErrOverFill
	}

	newStatus := model.OrderStatusPartiallyFilled
	if newFilled.Equal(order.Quantity) {
		newStatus = model.OrderStatusFilled
	}

	repo := s.orders
	if tx != nil {
		repo = repo.WithDB(tx)
	}

	won, err := repo.TransitionFill(ctx, order.ID, newFilled, newStatus, executedAt)
	if err != nil {
		return err
	}
	if !won {
		return model.ErrInvalidStateTransition
	}

	order.FilledQuantity = newFilled
	order.Status = newStatus
	order.ExecutedAt = &executedAt

	return nil
}
