package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/engine"
	"papertrader/src/model"
	"papertrader/src/repository"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, params engine.PlaceOrderParams) (*model.Order, error)
	CancelOrder(ctx context.Context, userID uuid.UUID, orderID uuid.UUID) (*model.Order, error)
}

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
}

type placeOrderPayload struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	OrderType string  `json:"type"`
	Quantity  string  `json:"quantity"`
	Price     *string `json:"price,omitempty"`
}

// PlaceOrderHandler accepts a new order for the authenticated user. The
// response carries the order in its post-placement state: OPEN for resting
// limit orders, FILLED or REJECTED for market orders settled synchronously.
func PlaceOrderHandler(eng orderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload placeOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid place order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		quantity, err := decimal.NewFromString(payload.Quantity)
		if err != nil {
			writeError(w, model.ErrInvalidQuantity)
			return
		}

		var price *decimal.Decimal
		if payload.Price != nil {
			parsed, parseErr := decimal.NewFromString(*payload.Price)
			if parseErr != nil {
				writeError(w, model.ErrInvalidPrice)
				return
			}
			price = &parsed
		}

		order, err := eng.PlaceOrder(r.Context(), engine.PlaceOrderParams{
			UserID:    user.ID,
			Symbol:    payload.Symbol,
			Side:      payload.Side,
			OrderType: payload.OrderType,
			Quantity:  quantity,
			Price:     price,
		})
		if err != nil {
			// A market order rejected by slippage still produced an order
			// row; surface both the order and the failure.
			if order != nil {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"order": order,
					"error": err.Error(),
				})
				return
			}
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

// CancelOrderHandler cancels one of the authenticated user's open orders.
func CancelOrderHandler(eng orderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := eng.CancelOrder(r.Context(), user.ID, orderID)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// GetOrderHandler fetches one of the authenticated user's orders by ID.
func GetOrderHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := repo.FindByID(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		if order == nil || order.UserID != user.ID {
			writeError(w, model.ErrOrderNotFound)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// SearchOrdersHandler lists the authenticated user's orders.
// Supports pagination and filters (symbol, status, createdFrom, createdTo).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			symbol = &symbolParam
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			status = &statusParam
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := r.URL.Query().Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			createdFrom = &parsed
		}

		if createdToParam := r.URL.Query().Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			createdTo = &parsed
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		offset := (page - 1) * pageSize

		orders, err := repo.Search(r.Context(), repository.OrderSearchOptions{
			UserID:        user.ID,
			Symbol:        symbol,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}
