package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit   = "deposit"
	TransactionTypeTradeBuy  = "trade_buy"
	TransactionTypeTradeSell = "trade_sell"
	TransactionTypeFee       = "fee"
	TransactionTypeAdjust    = "adjustment"
)

const (
	ReferenceTypeOrder  = "order"
	ReferenceTypeTrade  = "trade"
	ReferenceTypeManual = "manual"
)

// WalletTransaction is the append-only audit trail of every balance
// mutation. BalanceAfter must always equal BalanceBefore + Amount, and the
// rows of a wallet chain together without gaps.
type WalletTransaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID       `gorm:"type:uuid;index:idx_wallet_tx_user_created" json:"user_id"`
	WalletID        uuid.UUID       `gorm:"type:uuid;index" json:"wallet_id"`
	Currency        string          `gorm:"size:20;not null" json:"currency"`
	TransactionType string          `gorm:"column:transaction_type;size:30;not null" json:"transaction_type"`
	Amount          decimal.Decimal `gorm:"type:numeric(30,18);not null" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(30,18);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(30,18);not null" json:"balance_after"`
	ReferenceID     *uuid.UUID      `gorm:"column:reference_id;type:uuid" json:"reference_id,omitempty"`
	ReferenceType   string          `gorm:"column:reference_type;size:20" json:"reference_type,omitempty"`
	Description     string          `gorm:"size:255" json:"description,omitempty"`
	CreatedAt       time.Time       `gorm:"index:idx_wallet_tx_user_created" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
