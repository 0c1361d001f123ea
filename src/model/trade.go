package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one settled order. There is no internal
// counterparty: every fill happens against the external reference price,
// so exactly one of BuyOrderID/SellOrderID is set.
type Trade struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BuyOrderID    *uuid.UUID      `gorm:"column:buy_order_id;type:uuid;index" json:"buy_order_id,omitempty"`
	SellOrderID   *uuid.UUID      `gorm:"column:sell_order_id;type:uuid;index" json:"sell_order_id,omitempty"`
	Symbol        string          `gorm:"size:30;index:idx_trades_symbol_created" json:"symbol"`
	Price         decimal.Decimal `gorm:"type:numeric(30,18);not null" json:"price"`
	Quantity      decimal.Decimal `gorm:"type:numeric(30,18);not null" json:"quantity"`
	NotionalValue decimal.Decimal `gorm:"column:notional_value;type:numeric(30,18);not null" json:"notional_value"`
	CreatedAt     time.Time       `gorm:"index:idx_trades_symbol_created" json:"created_at"`
}

func (Trade) TableName() string {
	return "trades"
}
