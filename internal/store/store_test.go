package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelens/spotigram/internal/models"
	"github.com/avelens/spotigram/internal/secrets"
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
	// One connection keeps the shared in-memory database alive and
	// serializes sqlite access under concurrent test goroutines.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.SpotifyCredential{},
		&models.AuthorizationAttempt{},
		&models.MixQuota{},
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

func createTestUser(t *testing.T, db *gorm.DB, telegramID int64) *models.User {
	t.Helper()

	user, err := NewUsers(db).Ensure(context.Background(), UserProfile{TelegramID: telegramID})
	require.NoError(t, err)
	return user
}
