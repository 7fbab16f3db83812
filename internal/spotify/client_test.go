package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesOnceAfter401(t *testing.T) {
	var tokenHits int64
	tokenSrv := newTokenEndpoint(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"renewed-access","token_type":"Bearer","expires_in":3600}`)
	})

	var apiHits int64
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&apiHits, 1)
		// The stored token looks fresh locally but was invalidated
		// server-side; only the renewed one is accepted.
		if r.Header.Get("Authorization") != "Bearer renewed-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"spotify-user-1","display_name":"Alice"}`)
	}))
	t.Cleanup(apiSrv.Close)

	manager, creds, db := newTestManager(t, tokenSrv.URL)
	client := NewClient(manager, apiSrv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 6001)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-user-1", "s", "stale-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	profile, err := client.Me(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "spotify-user-1", profile.ID)
	assert.Equal(t, int64(2), atomic.LoadInt64(&apiHits), "one 401 plus one retry")
	assert.Equal(t, int64(1), atomic.LoadInt64(&tokenHits))
}

func TestClientSearchTracks(t *testing.T) {
	var tokenHits int64
	tokenSrv := newTokenEndpoint(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {})

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "track:Naima artist:John Coltrane", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tracks":{"items":[{"id":"t1","name":"Naima","uri":"spotify:track:t1","artists":[{"name":"John Coltrane"}]}]}}`)
	}))
	t.Cleanup(apiSrv.Close)

	manager, creds, db := newTestManager(t, tokenSrv.URL)
	client := NewClient(manager, apiSrv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 6002)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-search", "s", "valid-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	tracks, err := client.SearchTracks(ctx, user.ID, "track:Naima artist:John Coltrane", 1)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "spotify:track:t1", tracks[0].URI)
}

func TestClientCurrentlyPlayingNothing(t *testing.T) {
	var tokenHits int64
	tokenSrv := newTokenEndpoint(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {})

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Spotify answers 204 with no body when the player is idle.
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(apiSrv.Close)

	manager, creds, db := newTestManager(t, tokenSrv.URL)
	client := NewClient(manager, apiSrv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 6003)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-idle", "s", "valid-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	playing, err := client.CurrentlyPlaying(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, playing)
}

func TestClientErrorStatus(t *testing.T) {
	var tokenHits int64
	tokenSrv := newTokenEndpoint(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {})

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(apiSrv.Close)

	manager, creds, db := newTestManager(t, tokenSrv.URL)
	client := NewClient(manager, apiSrv.URL)
	ctx := context.Background()
	user := createTestUser(t, db, 6004)

	require.NoError(t, creds.Upsert(ctx, user.ID, "spotify-denied", "s", "valid-access", strptr("refresh-1"), time.Now().Add(time.Hour)))

	err := client.Pause(ctx, user.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
