package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/models"
	"github.com/avelens/spotigram/internal/secrets"
)

// Credential is the decrypted view of a stored Spotify credential. It only
// exists in process memory; at rest both tokens are ciphertext.
type Credential struct {
	UserID        int64
	SpotifyUserID string
	Scope         string
	AccessToken   string
	RefreshToken  *string
	ExpiresAt     time.Time
}

// Credentials owns reads and writes of Spotify credentials. All token
// material passes through the cipher on the way in and out.
type Credentials struct {
	db     *gorm.DB
	cipher *secrets.Cipher
}

// NewCredentials creates a credential store
func NewCredentials(db *gorm.DB, cipher *secrets.Cipher) *Credentials {
	return &Credentials{db: db, cipher: cipher}
}

// Upsert stores the credential obtained from a completed authorization,
// replacing any previous one for the user. If the Spotify account is already
// linked to a different local user it returns apperror.ErrConflict and
// leaves the existing binding untouched.
func (s *Credentials) Upsert(ctx context.Context, userID int64, spotifyUserID, scope, accessToken string, refreshToken *string, expiresAt time.Time) error {
	encAccess, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("store: encrypting access token: %w", err)
	}
	var encRefresh *string
	if refreshToken != nil {
		enc, err := s.cipher.Encrypt(*refreshToken)
		if err != nil {
			return fmt.Errorf("store: encrypting refresh token: %w", err)
		}
		encRefresh = &enc
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SpotifyCredential
		err := tx.Where("spotify_user_id = ?", spotifyUserID).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("store: checking spotify account binding: %w", err)
		}
		if err == nil && existing.UserID != userID {
			return fmt.Errorf("spotify account %s already linked to another user: %w", spotifyUserID, apperror.ErrConflict)
		}

		cred := models.SpotifyCredential{
			UserID:        userID,
			SpotifyUserID: spotifyUserID,
			Scope:         scope,
			AccessToken:   encAccess,
			RefreshToken:  encRefresh,
			ExpiresAt:     expiresAt.UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"spotify_user_id", "scope", "access_token", "refresh_token", "expires_at", "updated_at",
			}),
		}).Create(&cred).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Unique index on spotify_user_id caught a race the pre-check missed.
		return fmt.Errorf("spotify account %s already linked to another user: %w", spotifyUserID, apperror.ErrConflict)
	}
	if err != nil {
		return err
	}
	return nil
}

// Get returns the decrypted credential for a user, or apperror.ErrNotLinked.
func (s *Credentials) Get(ctx context.Context, userID int64) (*Credential, error) {
	var cred models.SpotifyCredential
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading credential for user %d: %w", userID, err)
	}

	accessToken, err := s.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("store: decrypting access token for user %d: %w", userID, err)
	}
	var refreshToken *string
	if cred.RefreshToken != nil {
		plain, err := s.cipher.Decrypt(*cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("store: decrypting refresh token for user %d: %w", userID, err)
		}
		refreshToken = &plain
	}

	return &Credential{
		UserID:        cred.UserID,
		SpotifyUserID: cred.SpotifyUserID,
		Scope:         cred.Scope,
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		ExpiresAt:     cred.ExpiresAt,
	}, nil
}

// UpdateTokens replaces the access token and its expiry in one write. The
// refresh token is only touched when Spotify rotated it; passing nil keeps
// the stored one. Token and expiry can never diverge: they travel in the
// same UPDATE.
func (s *Credentials) UpdateTokens(ctx context.Context, userID int64, accessToken string, expiresAt time.Time, refreshToken *string) error {
	encAccess, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("store: encrypting access token: %w", err)
	}

	updates := map[string]interface{}{
		"access_token": encAccess,
		"expires_at":   expiresAt.UTC(),
		"updated_at":   time.Now().UTC(),
	}
	if refreshToken != nil {
		encRefresh, err := s.cipher.Encrypt(*refreshToken)
		if err != nil {
			return fmt.Errorf("store: encrypting refresh token: %w", err)
		}
		updates["refresh_token"] = encRefresh
	}

	res := s.db.WithContext(ctx).
		Model(&models.SpotifyCredential{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: updating tokens for user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotLinked
	}
	return nil
}

// Delete removes the credential for a user. Deleting an absent credential
// is not an error.
func (s *Credentials) Delete(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.SpotifyCredential{}).Error
	if err != nil {
		return fmt.Errorf("store: deleting credential for user %d: %w", userID, err)
	}
	return nil
}
