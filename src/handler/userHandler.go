package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
	"papertrader/src/security"
)

type userStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// RegisterUserHandler creates a new user account. Open endpoint; everything
// else requires the X-User-ID header.
func RegisterUserHandler(repo userStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload model.CreateUserPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid create user payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		username := strings.TrimSpace(payload.Username)
		if username == "" || payload.Password == "" {
			http.Error(w, "Username and password are required", http.StatusBadRequest)
			return
		}

		existing, err := repo.FindByUsername(r.Context(), username)
		if err != nil {
			logger.WithError(err).Error("failed to check username availability")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}

		hashed, err := security.HashPassword(payload.Password)
		if err != nil {
			logger.WithError(err).Error("failed to hash password")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		user := &model.User{
			Username:     username,
			Email:        strings.TrimSpace(payload.Email),
			PasswordHash: hashed,
		}

		if err := repo.Create(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to create user")
			http.Error(w, "Unable to create user", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}
