package spotify

// Profile is the subset of the Spotify /me response the bot needs.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

// Artist identifies one performer on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a playable track from search results or the player.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	DurationMs int64    `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      struct {
		Name string `json:"name"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

// CurrentlyPlaying is the player state for /me/player/currently-playing.
// Item is nil when nothing is loaded.
type CurrentlyPlaying struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs int64  `json:"progress_ms"`
	Item       *Track `json:"item"`
}

// Device is one entry from /me/player/devices.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsActive     bool   `json:"is_active"`
	IsRestricted bool   `json:"is_restricted"`
}

// Playlist is the subset of a playlist object the bot reports back.
type Playlist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type searchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}
