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

// UserRepository handles read/write operations for users.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository instance using the main read/write database.
func NewUserRepository() *UserRepository {
	return &UserRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "UserRepository",
			"op":       "Create",
			"username": user.Username,
		}).WithError(err).Error("Failed to create user")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "UserRepository",
		"op":      "Create",
		"user_id": user.ID,
	}).Info("User created")

	return nil
}

// FindByID fetches a user by ID. Returns (nil, nil) if not found.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch user by ID")

		return nil, err
	}

	return &user, nil
}

// FindByUsername fetches a user by username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User

	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "UserRepository",
			"op":       "FindByUsername",
			"username": username,
		}).WithError(err).Error("Failed to fetch user by username")

		return nil, err
	}

	return &user, nil
}
