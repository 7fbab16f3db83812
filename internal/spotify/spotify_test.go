package spotify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelens/spotigram/internal/config"
	"github.com/avelens/spotigram/internal/models"
	"github.com/avelens/spotigram/internal/secrets"
	"github.com/avelens/spotigram/internal/store"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.SpotifyCredential{},
		&models.AuthorizationAttempt{},
	))
	return db
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()

	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	cipher, err := secrets.NewCipher(map[string][]byte{"k1": key}, "k1")
	require.NoError(t, err)
	return cipher
}

// testSpotifyConfig points the token endpoint at a local fake server.
func testSpotifyConfig(tokenURL string, usePKCE bool) config.SpotifyConfig {
	return config.SpotifyConfig{
		ClientID:    "test-client-id",
		RedirectURI: "https://example.com/spotify/callback",
		Scopes:      []string{"user-read-private", "user-modify-playback-state"},
		UsePKCE:     usePKCE,
		AuthURL:     "https://accounts.spotify.com/authorize",
		TokenURL:    tokenURL,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, telegramID int64) *models.User {
	t.Helper()

	user, err := store.NewUsers(db).Ensure(context.Background(), store.UserProfile{TelegramID: telegramID})
	require.NoError(t, err)
	return user
}
