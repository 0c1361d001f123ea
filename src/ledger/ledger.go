package ledger

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/events"
	"papertrader/src/model"
	"papertrader/src/repository"
)

const lockStripes = 64

// Delta describes one signed balance mutation.
type Delta struct {
	UserID        uuid.UUID
	Currency      string
	Amount        decimal.Decimal
	Kind          string
	Description   string
	ReferenceID   *uuid.UUID
	ReferenceType string
}

// Service is the wallet ledger: the single source of truth for balances
// and locked funds. Every mutation of a (user, currency) wallet runs under
// that wallet's stripe lock and inside one database transaction, so the
// balance row and its audit row commit together and the
// 0 <= locked <= balance invariant is checked race-free.
type Service struct {
	db      *gorm.DB
	wallets *repository.WalletRepository
	events  *events.Dispatcher
	locks   [lockStripes]sync.Mutex
}

func NewService(db *gorm.DB, dispatcher *events.Dispatcher) *Service {
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}

	return &Service{
		db:      db,
		wallets: repository.NewWalletRepository().WithDB(db),
		events:  dispatcher,
	}
}

func stripeIndex(userID uuid.UUID, currency string) int {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	_, _ = h.Write([]byte(currency))
	return int(h.Sum32() % lockStripes)
}

func (s *Service) lockFor(userID uuid.UUID, currency string) *sync.Mutex {
	return &s.locks[stripeIndex(userID, currency)]
}

// EnsureWallet returns the wallet for (userID, currency), creating an
// empty one on first use.
func (s *Service) EnsureWallet(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error) {
	mu := s.lockFor(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	return s.ensureWalletLocked(ctx, s.wallets, userID, currency)
}

func (s *Service) ensureWalletLocked(
	ctx context.Context,
	wallets *repository.WalletRepository,
	userID uuid.UUID,
	currency string,
) (*model.Wallet, error) {

	wallet, err := wallets.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = &model.Wallet{
		ID:             uuid.New(),
		UserID:         userID,
		Currency:       currency,
		Balance:        decimal.Zero,
		LockedBalance:  decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
	}

	if err := wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	return wallet, nil
}

// CreateWallet explicitly creates a wallet, optionally funding it with an
// initial deposit. Fails with ErrWalletExists on a duplicate create.
func (s *Service) CreateWallet(
	ctx context.Context,
	userID uuid.UUID,
	currency string,
	initialBalance decimal.Decimal,
) (*model.Wallet, error) {

	mu := s.lockFor(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.wallets.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.ErrWalletExists
	}

	wallet := &model.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: currency,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	if initialBalance.IsPositive() {
		return s.applyDeltaLocked(ctx, Delta{
			UserID:        userID,
			Currency:      currency,
			Amount:        initialBalance,
			Kind:          model.TransactionTypeDeposit,
			Description:   "Initial wallet funding",
			ReferenceType: model.ReferenceTypeManual,
		})
	}

	return wallet, nil
}

// Available returns balance minus locked balance. No side effects.
func (s *Service) Available(ctx context.Context, userID uuid.UUID, currency string) (decimal.Decimal, error) {
	wallet, err := s.wallets.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if wallet == nil {
		return decimal.Zero, nil
	}

	return wallet.Available(), nil
}

// Lock reserves funds against a future settlement without changing the
// balance. Fails with ErrInsufficientFunds when the amount exceeds the
// available balance.
func (s *Service) Lock(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.ErrInvalidQuantity
	}

	mu := s.lockFor(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	wallet, err := s.wallets.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return err
	}
	if wallet == nil || wallet.Available().LessThan(amount) {
		return model.ErrInsufficientFunds
	}

	wallet.LockedBalance = wallet.LockedBalance.Add(amount)

	if err := s.wallets.SaveBalances(ctx, wallet); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"op":        "Lock",
		"user_id":   userID,
		"currency":  currency,
		"amount":    amount,
		"locked":    wallet.LockedBalance,
	}).Debug("funds locked")

	return nil
}

// Unlock releases previously reserved funds. Fails with ErrInvalidUnlock
// when the amount exceeds the locked balance.
func (s *Service) Unlock(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.ErrInvalidQuantity
	}

	mu := s.lockFor(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	wallet, err := s.wallets.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return err
	}
	if wallet == nil || wallet.LockedBalance.LessThan(amount) {
		return model.ErrInvalidUnlock
	}

	wallet.LockedBalance = wallet.LockedBalance.Sub(amount)

	if err := s.wallets.SaveBalances(ctx, wallet); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"op":        "Unlock",
		"user_id":   userID,
		"currency":  currency,
		"amount":    amount,
		"locked":    wallet.LockedBalance,
	}).Debug("funds unlocked")

	return nil
}

// ApplyDelta is the only operation that changes a wallet balance. It
// updates the deposited/withdrawn aggregates and appends the audit row in
// the same transaction; a failed invariant check leaves no partial effect.
func (s *Service) ApplyDelta(ctx context.Context, delta Delta) (*model.Wallet, error) {
	mu := s.lockFor(delta.UserID, delta.Currency)
	mu.Lock()
	defer mu.Unlock()

	return s.applyDeltaLocked(ctx, delta)
}

func (s *Service) applyDeltaLocked(ctx context.Context, delta Delta) (*model.Wallet, error) {
	var wallet *model.Wallet

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		wallet, txErr = s.applyDeltaInTx(ctx, tx, delta)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(events.WalletBalanceChanged{
		UserID:       delta.UserID,
		Currency:     delta.Currency,
		BalanceAfter: wallet.Balance,
	})

	return wallet, nil
}

// ApplyDeltaPair applies a debit/credit pair as one database transaction,
// so a settlement can never leave a wallet half updated.
func (s *Service) ApplyDeltaPair(ctx context.Context, first Delta, second Delta) error {
	return s.ApplyDeltaPairWith(ctx, first, second, nil)
}

// ApplyDeltaPairWith applies a debit/credit pair and, when given, runs the
// within callback inside the same database transaction. The settlement
// engine uses the callback to append the trade record and record the order
// fill, making ledger deltas, trade and status change one all-or-nothing
// unit. Stripe locks are taken in index order and held across the commit
// to keep concurrent settlements serialized and deadlock-free.
func (s *Service) ApplyDeltaPairWith(
	ctx context.Context,
	first Delta,
	second Delta,
	within func(tx *gorm.DB) error,
) error {

	firstIdx := stripeIndex(first.UserID, first.Currency)
	secondIdx := stripeIndex(second.UserID, second.Currency)

	lo, hi := firstIdx, secondIdx
	if lo > hi {
		lo, hi = hi, lo
	}

	s.locks[lo].Lock()
	defer s.locks[lo].Unlock()
	if hi != lo {
		s.locks[hi].Lock()
		defer s.locks[hi].Unlock()
	}

	var firstWallet, secondWallet *model.Wallet

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		if firstWallet, txErr = s.applyDeltaInTx(ctx, tx, first); txErr != nil {
			return txErr
		}
		if secondWallet, txErr = s.applyDeltaInTx(ctx, tx, second); txErr != nil {
			return txErr
		}
		if within != nil {
			return within(tx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(events.WalletBalanceChanged{
		UserID:       first.UserID,
		Currency:     first.Currency,
		BalanceAfter: firstWallet.Balance,
	})
	s.events.Publish(events.WalletBalanceChanged{
		UserID:       second.UserID,
		Currency:     second.Currency,
		BalanceAfter: secondWallet.Balance,
	})

	return nil
}

func (s *Service) applyDeltaInTx(ctx context.Context, tx *gorm.DB, delta Delta) (*model.Wallet, error) {
	wallets := s.wallets.WithDB(tx)

	wallet, err := s.ensureWalletLocked(ctx, wallets, delta.UserID, delta.Currency)
	if err != nil {
		return nil, err
	}

	balanceBefore := wallet.Balance
	balanceAfter := balanceBefore.Add(delta.Amount)

	// Invariant: 0 <= locked <= balance must still hold after the delta.
	if balanceAfter.IsNegative() || balanceAfter.LessThan(wallet.LockedBalance) {
		logger.WithFields(map[string]interface{}{
			"component": "ledger",
			"op":        "ApplyDelta",
			"user_id":   delta.UserID,
			"currency":  delta.Currency,
			"amount":    delta.Amount,
			"balance":   balanceBefore,
			"locked":    wallet.LockedBalance,
		}).Warn("delta refused, would break balance invariant")

		return nil, model.ErrInsufficientFunds
	}

	wallet.Balance = balanceAfter
	if delta.Amount.IsPositive() {
		wallet.TotalDeposited = wallet.TotalDeposited.Add(delta.Amount)
	} else {
		wallet.TotalWithdrawn = wallet.TotalWithdrawn.Add(delta.Amount.Abs())
	}

	if err := wallets.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}

	record := &model.WalletTransaction{
		ID:              uuid.New(),
		UserID:          delta.UserID,
		WalletID:        wallet.ID,
		Currency:        delta.Currency,
		TransactionType: delta.Kind,
		Amount:          delta.Amount,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
		ReferenceID:     delta.ReferenceID,
		ReferenceType:   delta.ReferenceType,
		Description:     delta.Description,
	}
	if err := wallets.CreateTransaction(ctx, record); err != nil {
		return nil, err
	}

	return wallet, nil
}
