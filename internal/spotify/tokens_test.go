package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/store"
)

// newTokenEndpoint fakes the Spotify token endpoint and counts how many
// refresh requests actually reach it.
func newTokenEndpoint(t *testing.T, hits *int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, tokenURL string) (*TokenManager, *store.Credentials, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	creds := store.NewCredentials(db, testCipher(t))
	auth := NewAuthenticator(testSpotifyConfig(tokenURL, true), store.NewAttempts(db))
	return NewTokenManager(creds, auth), creds, db
}

func strptr(s string) *string { return &s }

func TestGetValidAccessTokenFreshTokenNoNetwork(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called for a fresh token")
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5001)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-fresh", "s", "stored-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	token, err := manager.GetValidAccessToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Equal(t, int64(0), atomic.LoadInt64(&hits))
}

func TestGetValidAccessTokenWithinSkewRefreshes(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-access","token_type":"Bearer","expires_in":3600}`)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5002)

	// Not yet expired, but inside the skew window.
	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-skew", "s", "stored-access", strptr("refresh-1"), time.Now().Add(30*time.Second)))

	token, err := manager.GetValidAccessToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))

	// The endpoint did not rotate the refresh token, so the stored one
	// survives the update.
	cred, err := creds.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.AccessToken)
	require.NotNil(t, cred.RefreshToken)
	assert.Equal(t, "refresh-1", *cred.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
}

func TestGetValidAccessTokenConcurrentSingleRefresh(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond) // let the callers pile up
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"shared-access","token_type":"Bearer","expires_in":3600}`)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5003)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-flight", "s", "expired-access", strptr("refresh-1"), time.Now().Add(-time.Minute)))

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = manager.GetValidAccessToken(ctx, user.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", tokens[i])
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "concurrent callers must share one refresh")
}

func TestGetValidAccessTokenSurvivesCallerCancellation(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"survivor-access","token_type":"Bearer","expires_in":3600}`)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	user := createTestUser(t, db, 5004)

	require.NoError(t, creds.Upsert(context.Background(), user.ID, "spotify-cancel", "s", "expired-access", strptr("refresh-1"), time.Now().Add(-time.Minute)))

	// The initiating caller walks away almost immediately.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _ = manager.GetValidAccessToken(ctx, user.ID)

	// The refresh itself must have completed and been persisted.
	require.Eventually(t, func() bool {
		cred, err := creds.Get(context.Background(), user.ID)
		return err == nil && cred.AccessToken == "survivor-access"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGetValidAccessTokenInvalidGrantUnlinks(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5005)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-dead", "s", "expired-access", strptr("revoked-refresh"), time.Now().Add(-time.Minute)))

	_, err := manager.GetValidAccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrReauthorizationRequired)

	// The dead credential is gone; the user is back to not-linked.
	_, err = creds.Get(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrNotLinked)

	_, err = manager.GetValidAccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrNotLinked)
}

func TestGetValidAccessTokenTransientFailureKeepsCredential(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5006)

	expiry := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-flaky", "s", "expired-access", strptr("refresh-1"), expiry))

	_, err := manager.GetValidAccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrTransient)

	// Nothing was mutated: stored tokens and expiry are untouched.
	cred, err := creds.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired-access", cred.AccessToken)
	require.NotNil(t, cred.RefreshToken)
	assert.Equal(t, "refresh-1", *cred.RefreshToken)
	assert.WithinDuration(t, expiry, cred.ExpiresAt, time.Second)
}

func TestGetValidAccessTokenNoRefreshTokenUnlinks(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called without a refresh token")
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5007)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-norefresh", "s", "expired-access", nil, time.Now().Add(-time.Minute)))

	_, err := manager.GetValidAccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrReauthorizationRequired)

	_, err = creds.Get(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrNotLinked)
}

func TestGetValidAccessTokenNotLinked(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {})

	manager, _, _ := newTestManager(t, srv.URL)

	_, err := manager.GetValidAccessToken(context.Background(), 9999)
	require.ErrorIs(t, err, apperror.ErrNotLinked)
}

func TestForceRefreshIgnoresStoredExpiry(t *testing.T) {
	var hits int64
	srv := newTokenEndpoint(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"forced-access","token_type":"Bearer","expires_in":3600}`)
	})

	manager, creds, db := newTestManager(t, srv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 5008)

	// Looks fresh locally, but Spotify has invalidated it server-side.
	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-force", "s", "stale-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	token, err := manager.ForceRefresh(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "forced-access", token)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}
