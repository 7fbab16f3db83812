package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/avelens/spotigram/internal/spotify"
)

func newTestTelegramAPI(t *testing.T, handler http.HandlerFunc) *TelegramAPI {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := NewTelegramAPI("test-token")
	api.baseURL = srv.URL
	return api
}

func TestUserLimiterBurstThenThrottle(t *testing.T) {
	limiter := newUserLimiter(rate.Every(time.Hour), 2)

	assert.True(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1), "burst spent, next call must be throttled")

	// A different user has their own bucket.
	assert.True(t, limiter.Allow(2))
}

func TestGetUpdates(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	api := newTestTelegramAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"text":"/now","from":{"id":42,"username":"alice"},"chat":{"id":42}}},
			{"update_id":8,"message":null}
		]}`)
	})

	updates, err := api.GetUpdates(context.Background(), 7, 30)
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/getUpdates", gotPath)
	assert.Equal(t, []string{"7"}, gotQuery["offset"])
	assert.Equal(t, []string{"30"}, gotQuery["timeout"])

	require.Len(t, updates, 2)
	assert.Equal(t, int64(7), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "/now", updates[0].Message.Text)
	assert.Equal(t, int64(42), updates[0].Message.From.ID)
	assert.Nil(t, updates[1].Message)
}

func TestGetUpdatesAPIError(t *testing.T) {
	api := newTestTelegramAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"description":"Unauthorized"}`)
	})

	_, err := api.GetUpdates(context.Background(), 0, 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestSendMessage(t *testing.T) {
	var gotPayload map[string]interface{}
	api := newTestTelegramAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	})

	require.NoError(t, api.SendMessage(context.Background(), 42, "<b>hello</b>"))

	assert.Equal(t, float64(42), gotPayload["chat_id"])
	assert.Equal(t, "<b>hello</b>", gotPayload["text"])
	assert.Equal(t, "HTML", gotPayload["parse_mode"])
}

func TestMixNameCapped(t *testing.T) {
	assert.Equal(t, "Mix: rainy sunday", mixName("rainy sunday"))

	long := mixName(strings.Repeat("very long vibe ", 10))
	assert.Len(t, long, 60)
	assert.True(t, strings.HasPrefix(long, "Mix: "))

	// Multi-byte vibes must truncate on rune boundaries.
	cyrillic := mixName(strings.Repeat("дождливое утро ", 10))
	assert.True(t, utf8.ValidString(cyrillic))
	assert.Equal(t, 60, utf8.RuneCountInString(cyrillic))
}

func TestArtistNames(t *testing.T) {
	track := &spotify.Track{Artists: []spotify.Artist{{Name: "Miles Davis"}, {Name: "John Coltrane"}}}
	assert.Equal(t, "Miles Davis, John Coltrane", artistNames(track))
}
