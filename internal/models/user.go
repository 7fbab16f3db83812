package models

import "time"

// User represents a Telegram user known to the bot. A user has at most one
// Spotify credential; deleting the user cascades to it and to any pending
// authorization attempts.
type User struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TelegramID int64     `json:"telegram_id" gorm:"uniqueIndex;not null"`
	Username   *string   `json:"username"`
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Relationships (optional, for eager loading)
	Credential *SpotifyCredential     `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Attempts   []AuthorizationAttempt `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
