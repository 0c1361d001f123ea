package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Middleware resolves the X-User-ID header to a user and stores it in the
// request context. Requests without a valid, known user are rejected.
func Middleware(users userFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-User-ID")
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				logger.WithError(err).Error("failed to resolve user for request")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if user == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
