package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/model"
	"papertrader/src/repository"
	"papertrader/src/trades"
)

type tradeLister interface {
	FindRecentBySymbol(ctx context.Context, symbol string, limit int) ([]model.Trade, error)
	FindByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) ([]model.Trade, error)
}

type statsProvider interface {
	Stats(ctx context.Context, symbol string, timeframe string) (*trades.MarketStats, error)
}

// RecentTradesHandler returns the latest trades for a symbol, newest first.
func RecentTradesHandler(repo tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		result, err := repo.FindRecentBySymbol(r.Context(), symbol, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list recent trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// MarketStatsHandler aggregates OHLC, volume and price change for a symbol
// over a timeframe (1h, 24h or 7d).
func MarketStatsHandler(provider statsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

		timeframe := r.URL.Query().Get("timeframe")
		if timeframe == "" {
			timeframe = "24h"
		}

		stats, err := provider.Stats(r.Context(), symbol, timeframe)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

// UserTradesHandler lists the authenticated user's trades by joining their
// recent orders to the trades that filled them.
func UserTradesHandler(orders orderSearcher, tradeRepo tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit := 100
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		userOrders, err := orders.Search(r.Context(), repository.OrderSearchOptions{
			UserID: user.ID,
			Limit:  limit,
		})
		if err != nil {
			logger.WithError(err).Error("failed to list orders for user trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		orderIDs := make([]uuid.UUID, 0, len(userOrders))
		for i := range userOrders {
			orderIDs = append(orderIDs, userOrders[i].ID)
		}

		result, err := tradeRepo.FindByOrderIDs(r.Context(), orderIDs)
		if err != nil {
			logger.WithError(err).Error("failed to list user trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
