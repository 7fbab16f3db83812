package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/models"
)

// AttemptTTL bounds the life of an authorization attempt. Redeem filters on
// it directly so a lagging cleanup sweep can never resurrect a stale state.
const AttemptTTL = 10 * time.Minute

// Attempts tracks outstanding authorization attempts keyed by their
// single-use state token.
type Attempts struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewAttempts creates an attempt tracker with the default TTL
func NewAttempts(db *gorm.DB) *Attempts {
	return &Attempts{db: db, ttl: AttemptTTL}
}

// Record persists a state/verifier pair before the authorize URL is handed
// out. A duplicate state (entropy collision) returns apperror.ErrConflict.
func (s *Attempts) Record(ctx context.Context, state, codeVerifier string, userID *int64) error {
	attempt := models.AuthorizationAttempt{
		State:        state,
		CodeVerifier: codeVerifier,
		UserID:       userID,
	}
	err := s.db.WithContext(ctx).Create(&attempt).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("state %q already recorded: %w", state, apperror.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("store: recording authorization attempt: %w", err)
	}
	return nil
}

// Redeem consumes an attempt. The used_at stamp is a single conditional
// update, so of any number of concurrent redemptions for one state exactly
// one succeeds — this holds across process instances, not just goroutines.
func (s *Attempts) Redeem(ctx context.Context, state string) (codeVerifier string, userID *int64, err error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.ttl)

	res := s.db.WithContext(ctx).
		Model(&models.AuthorizationAttempt{}).
		Where("state = ? AND used_at IS NULL AND created_at > ?", state, cutoff).
		Update("used_at", now)
	if res.Error != nil {
		return "", nil, fmt.Errorf("store: redeeming state: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Classify the failure: an existing used row is replay, anything
		// else (absent or past TTL) is not-found.
		var attempt models.AuthorizationAttempt
		err := s.db.WithContext(ctx).Where("state = ?", state).First(&attempt).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apperror.ErrStateNotFound
		}
		if err != nil {
			return "", nil, fmt.Errorf("store: inspecting state: %w", err)
		}
		if attempt.UsedAt != nil {
			return "", nil, apperror.ErrStateAlreadyUsed
		}
		return "", nil, apperror.ErrStateNotFound
	}

	var attempt models.AuthorizationAttempt
	if err := s.db.WithContext(ctx).Where("state = ?", state).First(&attempt).Error; err != nil {
		return "", nil, fmt.Errorf("store: loading redeemed attempt: %w", err)
	}
	return attempt.CodeVerifier, attempt.UserID, nil
}

// DeleteExpired removes attempts older than the TTL, used or not. Returns
// the number of rows removed.
func (s *Attempts) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	res := s.db.WithContext(ctx).
		Where("created_at <= ?", cutoff).
		Delete(&models.AuthorizationAttempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: sweeping expired attempts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
