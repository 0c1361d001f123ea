package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/ledger"
	"papertrader/src/model"
)

type walletLister interface {
	FindByUser(ctx context.Context, userID uuid.UUID) ([]model.Wallet, error)
	FindByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error)
	FindTransactions(ctx context.Context, userID uuid.UUID, currency *string, limit int, offset int) ([]model.WalletTransaction, error)
}

type ledgerService interface {
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string, initialBalance decimal.Decimal) (*model.Wallet, error)
	ApplyDelta(ctx context.Context, delta ledger.Delta) (*model.Wallet, error)
}

type createWalletPayload struct {
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance,omitempty"`
}

type depositPayload struct {
	Amount string `json:"amount"`
}

// ListWalletsHandler returns all wallets of the authenticated user.
func ListWalletsHandler(repo walletLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		wallets, err := repo.FindByUser(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to list wallets")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, wallets)
	}
}

// GetWalletHandler returns the authenticated user's wallet for one currency.
func GetWalletHandler(repo walletLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		currency := strings.ToUpper(chi.URLParam(r, "currency"))

		wallet, err := repo.FindByUserAndCurrency(r.Context(), user.ID, currency)
		if err != nil {
			writeError(w, err)
			return
		}
		if wallet == nil {
			writeError(w, model.ErrWalletNotFound)
			return
		}

		writeJSON(w, http.StatusOK, wallet)
	}
}

// CreateWalletHandler creates a wallet for the authenticated user, with an
// optional initial balance. Duplicate creation is a conflict.
func CreateWalletHandler(svc ledgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload createWalletPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid create wallet payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
		if currency == "" {
			http.Error(w, "currency is required", http.StatusBadRequest)
			return
		}

		initialBalance := decimal.Zero
		if payload.InitialBalance != "" {
			parsed, err := decimal.NewFromString(payload.InitialBalance)
			if err != nil || parsed.IsNegative() {
				http.Error(w, "invalid initial_balance", http.StatusBadRequest)
				return
			}
			initialBalance = parsed
		}

		wallet, err := svc.CreateWallet(r.Context(), user.ID, currency, initialBalance)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, wallet)
	}
}

// DepositHandler credits the authenticated user's wallet. Paper money only;
// there is no external settlement behind it.
func DepositHandler(svc ledgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		currency := strings.ToUpper(chi.URLParam(r, "currency"))

		var payload depositPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid deposit payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil || !amount.IsPositive() {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}

		wallet, err := svc.ApplyDelta(r.Context(), ledger.Delta{
			UserID:        user.ID,
			Currency:      currency,
			Amount:        amount,
			Kind:          model.TransactionTypeDeposit,
			Description:   "Deposit",
			ReferenceType: model.ReferenceTypeManual,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, wallet)
	}
}

// ListTransactionsHandler returns the authenticated user's wallet
// transaction history, newest first, optionally filtered by currency.
func ListTransactionsHandler(repo walletLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var currency *string
		if currencyParam := r.URL.Query().Get("currency"); currencyParam != "" {
			upper := strings.ToUpper(currencyParam)
			currency = &upper
		}

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		offset := 0
		if offsetParam := r.URL.Query().Get("offset"); offsetParam != "" {
			parsed, err := strconv.Atoi(offsetParam)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid offset", http.StatusBadRequest)
				return
			}
			offset = parsed
		}

		transactions, err := repo.FindTransactions(r.Context(), user.ID, currency, limit, offset)
		if err != nil {
			logger.WithError(err).Error("failed to list wallet transactions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, transactions)
	}
}
