package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds the simulated balance of one user in one currency.
// Balance only ever changes through the ledger; LockedBalance is the
// reservation watermark for resting limit orders.
type Wallet struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID       `gorm:"type:uuid;index:idx_wallets_user_currency,unique" json:"user_id"`
	Currency      string          `gorm:"size:20;index:idx_wallets_user_currency,unique" json:"currency"`
	Balance       decimal.Decimal `gorm:"type:numeric(30,18);not null;default:0" json:"balance"`
	LockedBalance decimal.Decimal `gorm:"column:locked_balance;type:numeric(30,18);not null;default:0" json:"locked_balance"`

	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;type:numeric(30,18);not null;default:0" json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;type:numeric(30,18);not null;default:0" json:"total_withdrawn"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Available is the spendable part of the balance.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}
