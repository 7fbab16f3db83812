package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls the Spotify Web API on behalf of linked users. Every request
// gets its bearer token from the TokenManager; a 401 on a locally-fresh
// token triggers one forced refresh and retry.
type Client struct {
	tokens     *TokenManager
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Web API client
func NewClient(tokens *TokenManager, baseURL string) *Client {
	return &Client{
		tokens:     tokens,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, userID int64, method, path string, query url.Values, body interface{}, out interface{}) error {
	token, err := c.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}

	status, err := c.do(ctx, token, method, path, query, body, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// The token looked fresh locally but Spotify disagreed.
		token, err = c.tokens.ForceRefresh(ctx, userID)
		if err != nil {
			return err
		}
		status, err = c.do(ctx, token, method, path, query, body, out)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("spotify: %s %s returned status %d", method, path, status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body interface{}, out interface{}) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("spotify: encoding request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return 0, fmt.Errorf("spotify: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("spotify: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("spotify: decoding %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Me returns the linked user's Spotify profile.
func (c *Client) Me(ctx context.Context, userID int64) (*Profile, error) {
	var profile Profile
	if err := c.request(ctx, userID, http.MethodGet, "/me", nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// MeWithToken fetches a profile with an explicit access token. The callback
// handler uses it right after the code exchange, before any credential row
// exists to look the token up from.
func (c *Client) MeWithToken(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	status, err := c.do(ctx, accessToken, http.MethodGet, "/me", nil, nil, &profile)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("spotify: GET /me returned status %d", status)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("spotify: profile response missing id")
	}
	return &profile, nil
}

// CurrentlyPlaying returns the player state, or nil when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context, userID int64) (*CurrentlyPlaying, error) {
	var playing CurrentlyPlaying
	if err := c.request(ctx, userID, http.MethodGet, "/me/player/currently-playing", nil, nil, &playing); err != nil {
		return nil, err
	}
	if playing.Item == nil {
		return nil, nil
	}
	return &playing, nil
}

// Devices lists the user's available playback devices.
func (c *Client) Devices(ctx context.Context, userID int64) ([]Device, error) {
	var resp devicesResponse
	if err := c.request(ctx, userID, http.MethodGet, "/me/player/devices", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// TransferPlayback moves playback to the given device.
func (c *Client) TransferPlayback(ctx context.Context, userID int64, deviceID string, play bool) error {
	body := map[string]interface{}{
		"device_ids": []string{deviceID},
		"play":       play,
	}
	return c.request(ctx, userID, http.MethodPut, "/me/player", nil, body, nil)
}

// Play starts or resumes playback of the given URIs (or the current context
// when none are passed).
func (c *Client) Play(ctx context.Context, userID int64, uris []string) error {
	var body interface{}
	if len(uris) > 0 {
		body = map[string]interface{}{"uris": uris}
	}
	return c.request(ctx, userID, http.MethodPut, "/me/player/play", nil, body, nil)
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, userID int64) error {
	return c.request(ctx, userID, http.MethodPut, "/me/player/pause", nil, nil, nil)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, userID int64) error {
	return c.request(ctx, userID, http.MethodPost, "/me/player/next", nil, nil, nil)
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context, userID int64) error {
	return c.request(ctx, userID, http.MethodPost, "/me/player/previous", nil, nil, nil)
}

// SearchTracks searches the catalog for tracks matching the query.
func (c *Client) SearchTracks(ctx context.Context, userID int64, query string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.request(ctx, userID, http.MethodGet, "/search", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tracks.Items, nil
}

// CreatePlaylist creates a private playlist on the user's account.
func (c *Client) CreatePlaylist(ctx context.Context, userID int64, spotifyUserID, name, description string) (*Playlist, error) {
	body := map[string]interface{}{
		"name":        name,
		"description": description,
		"public":      false,
	}
	var playlist Playlist
	path := "/users/" + url.PathEscape(spotifyUserID) + "/playlists"
	if err := c.request(ctx, userID, http.MethodPost, path, nil, body, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// AddTracks appends tracks to a playlist.
func (c *Client) AddTracks(ctx context.Context, userID int64, playlistID string, trackURIs []string) error {
	body := map[string]interface{}{"uris": trackURIs}
	path := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	return c.request(ctx, userID, http.MethodPost, path, nil, body, nil)
}
