package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avelens/spotigram/internal/models"
)

// UserProfile is the Telegram identity used to create or refresh a user row.
type UserProfile struct {
	TelegramID int64
	Username   *string
	FirstName  *string
	LastName   *string
}

// Users manages user records
type Users struct {
	db *gorm.DB
}

// NewUsers creates a user store
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Ensure returns the user for a Telegram identity, creating the row on first
// contact and refreshing the profile fields on subsequent ones.
func (s *Users) Ensure(ctx context.Context, profile UserProfile) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", profile.TelegramID).First(&user).Error

	switch {
	case err == nil:
		user.Username = profile.Username
		user.FirstName = profile.FirstName
		user.LastName = profile.LastName
		user.UpdatedAt = time.Now().UTC()
		if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
			return nil, fmt.Errorf("store: updating user %d: %w", user.ID, err)
		}
		return &user, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			TelegramID: profile.TelegramID,
			Username:   profile.Username,
			FirstName:  profile.FirstName,
			LastName:   profile.LastName,
		}
		err := s.db.WithContext(ctx).Create(&user).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a create race with a concurrent request for the same
			// Telegram user; the winner's row is the one we want.
			if err := s.db.WithContext(ctx).Where("telegram_id = ?", profile.TelegramID).First(&user).Error; err != nil {
				return nil, fmt.Errorf("store: re-reading user after create race: %w", err)
			}
			return &user, nil
		}
		if err != nil {
			return nil, fmt.Errorf("store: creating user: %w", err)
		}
		return &user, nil

	default:
		return nil, fmt.Errorf("store: looking up user by telegram id %d: %w", profile.TelegramID, err)
	}
}

// GetByTelegramID returns the user with the given Telegram id.
func (s *Users) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: looking up user by telegram id %d: %w", telegramID, err)
	}
	return &user, nil
}

// Delete removes a user; credentials and attempts cascade with the row.
func (s *Users) Delete(ctx context.Context, userID int64) error {
	if err := s.db.WithContext(ctx).Delete(&models.User{}, userID).Error; err != nil {
		return fmt.Errorf("store: deleting user %d: %w", userID, err)
	}
	return nil
}
