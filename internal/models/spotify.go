package models

import "time"

// SpotifyCredential stores the OAuth tokens for one linked Spotify account.
// Token columns hold ciphertext produced by the secrets package, never the
// raw tokens. ExpiresAt always describes the access token currently stored
// in AccessToken; the two are only ever replaced together.
type SpotifyCredential struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID        int64     `json:"user_id" gorm:"uniqueIndex;not null"`
	SpotifyUserID string    `json:"spotify_user_id" gorm:"uniqueIndex;not null"`
	Scope         string    `json:"scope" gorm:"not null"`
	AccessToken   string    `json:"-" gorm:"not null"` // encrypted, never expose
	RefreshToken  *string   `json:"-"`                 // encrypted; nil for PKCE-only grants without one
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for SpotifyCredential
func (SpotifyCredential) TableName() string {
	return "spotify_credentials"
}

// AuthorizationAttempt is one outstanding Spotify authorization flow: the
// single-use state token handed to the browser plus the PKCE code verifier
// that must accompany the eventual code exchange. UsedAt flips exactly once;
// rows older than the tracker TTL are treated as absent even before the
// cleanup job removes them.
type AuthorizationAttempt struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	State        string     `json:"state" gorm:"uniqueIndex;not null"`
	CodeVerifier string     `json:"-" gorm:"not null"`
	UserID       *int64     `json:"user_id"`
	UsedAt       *time.Time `json:"used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName specifies the table name for AuthorizationAttempt
func (AuthorizationAttempt) TableName() string {
	return "authorization_attempts"
}

// MixQuota tracks per-user daily usage of the AI playlist generator.
type MixQuota struct {
	UserID       int64      `json:"user_id" gorm:"primaryKey"`
	RequestDate  string     `json:"request_date" gorm:"primaryKey"` // YYYY-MM-DD, UTC
	RequestCount int        `json:"request_count" gorm:"not null;default:0"`
	LastRequest  *time.Time `json:"last_request"`
}

// TableName specifies the table name for MixQuota
func (MixQuota) TableName() string {
	return "mix_quotas"
}
