package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

const (
	OrderStatusNew             = "new"
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
)

// Order represents a simulated exchange order. Price is set for limit
// orders only; market orders settle against the reference price at
// placement time.
type Order struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID        `gorm:"type:uuid;index" json:"user_id"`
	Symbol         string           `gorm:"size:30;index:idx_orders_symbol_status" json:"symbol"`
	Side           string           `gorm:"size:10;not null" json:"side"`
	OrderType      string           `gorm:"column:order_type;size:10;not null" json:"order_type"`
	Price          *decimal.Decimal `gorm:"type:numeric(30,18)" json:"price,omitempty"`
	Quantity       decimal.Decimal  `gorm:"type:numeric(30,18);not null" json:"quantity"`
	FilledQuantity decimal.Decimal  `gorm:"column:filled_quantity;type:numeric(30,18);not null;default:0" json:"filled_quantity"`
	Status         string           `gorm:"size:20;not null;default:new;index:idx_orders_symbol_status" json:"status"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty"`
	CreatedAt      time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// RemainingQuantity is the unfilled part of the order.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}
