package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/database"
	"papertrader/src/model"
)

// WalletRepository handles read/write operations for wallets and their
// transaction history.
type WalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new repository instance using the main read/write database.
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *WalletRepository) WithDB(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create inserts a new wallet row.
func (r *WalletRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.ErrWalletExists
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "WalletRepository",
			"op":       "Create",
			"user_id":  wallet.UserID,
			"currency": wallet.Currency,
		}).WithError(err).Error("Failed to create wallet")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "WalletRepository",
		"op":        "Create",
		"wallet_id": wallet.ID,
		"currency":  wallet.Currency,
	}).Info("Wallet created")

	return nil
}

// FindByUserAndCurrency fetches one wallet by its (user, currency) key.
// Returns (nil, nil) if the wallet is not found.
func (r *WalletRepository) FindByUserAndCurrency(
	ctx context.Context,
	userID uuid.UUID,
	currency string,
) (*model.Wallet, error) {

	var wallet model.Wallet

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "WalletRepository",
			"op":       "FindByUserAndCurrency",
			"user_id":  userID,
			"currency": currency,
		}).WithError(err).Error("Failed to fetch wallet")

		return nil, err
	}

	return &wallet, nil
}

// FindByUser returns all wallets of a user ordered by currency.
func (r *WalletRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]model.Wallet, error) {
	var wallets []model.Wallet

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency ASC").
		Find(&wallets).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "WalletRepository",
			"op":      "FindByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch wallets")

		return nil, err
	}

	return wallets, nil
}

// SaveBalances persists the mutable balance columns of a wallet.
func (r *WalletRepository) SaveBalances(ctx context.Context, wallet *model.Wallet) error {
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]interface{}{
			"balance":         wallet.Balance,
			"locked_balance":  wallet.LockedBalance,
			"total_deposited": wallet.TotalDeposited,
			"total_withdrawn": wallet.TotalWithdrawn,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "WalletRepository",
			"op":        "SaveBalances",
			"wallet_id": wallet.ID,
		}).WithError(err).Error("Failed to save wallet balances")

		return err
	}

	return nil
}

// CreateTransaction appends one row to the wallet audit trail.
func (r *WalletRepository) CreateTransaction(ctx context.Context, tx *model.WalletTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(tx).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "WalletRepository",
			"op":        "CreateTransaction",
			"wallet_id": tx.WalletID,
			"type":      tx.TransactionType,
		}).WithError(err).Error("Failed to create wallet transaction")

		return err
	}

	return nil
}

// FindTransactions returns the newest-first transaction history of a user,
// optionally filtered by currency.
func (r *WalletRepository) FindTransactions(
	ctx context.Context,
	userID uuid.UUID,
	currency *string,
	limit int,
	offset int,
) ([]model.WalletTransaction, error) {

	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)

	if currency != nil {
		query = query.Where("currency = ?", *currency)
	}

	var transactions []model.WalletTransaction
	if err := query.Find(&transactions).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "WalletRepository",
			"op":      "FindTransactions",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch wallet transactions")

		return nil, err
	}

	return transactions, nil
}

// FindTransactionsByWallet returns the full, oldest-first audit chain of one
// wallet. Used by the conservation checks.
func (r *WalletRepository) FindTransactionsByWallet(
	ctx context.Context,
	walletID uuid.UUID,
) ([]model.WalletTransaction, error) {

	var transactions []model.WalletTransaction

	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at ASC, id ASC").
		Find(&transactions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "WalletRepository",
			"op":        "FindTransactionsByWallet",
			"wallet_id": walletID,
		}).WithError(err).Error("Failed to fetch wallet transaction chain")

		return nil, err
	}

	return transactions, nil
}
