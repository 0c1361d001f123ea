package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// Outbound domain events consumed by notification and portfolio
// collaborators. Events are published after the originating database
// commit, so consumers never observe effects that later rolled back.

type OrderStatusChanged struct {
	OrderID   uuid.UUID
	UserID    uuid.UUID
	Symbol    string
	OldStatus string
	NewStatus string
}

type TradeExecuted struct {
	Trade model.Trade
}

type WalletBalanceChanged struct {
	UserID       uuid.UUID
	Currency     string
	BalanceAfter decimal.Decimal
}

// Handler receives every published event. Handlers run synchronously on
// the publisher's goroutine and must not block.
type Handler func(event interface{})

// Dispatcher fans events out to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Subscribe(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

func (d *Dispatcher) Publish(event interface{}) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// LoggingHandler writes every event to the structured log. Registered by
// default so the event stream is observable without any consumer attached.
func LoggingHandler(event interface{}) {
	switch e := event.(type) {
	case OrderStatusChanged:
		logger.WithFields(map[string]interface{}{
			"event":      "OrderStatusChanged",
			"order_id":   e.OrderID,
			"old_status": e.OldStatus,
			"new_status": e.NewStatus,
		}).Info("order status changed")
	case TradeExecuted:
		logger.WithFields(map[string]interface{}{
			"event":    "TradeExecuted",
			"trade_id": e.Trade.ID,
			"symbol":   e.Trade.Symbol,
			"price":    e.Trade.Price,
			"quantity": e.Trade.Quantity,
		}).Info("trade executed")
	case WalletBalanceChanged:
		logger.WithFields(map[string]interface{}{
			"event":    "WalletBalanceChanged",
			"user_id":  e.UserID,
			"currency": e.Currency,
			"balance":  e.BalanceAfter,
		}).Debug("wallet balance changed")
	}
}
