package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        int
	BaseURL     string
	Environment string
	Database    DatabaseConfig
	Spotify     SpotifyConfig
	Telegram    TelegramConfig
	Planner     PlannerConfig
	Encryption  EncryptionConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SpotifyConfig holds the Spotify OAuth application settings
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string // optional; empty for PKCE-only apps
	RedirectURI  string
	Scopes       []string
	UsePKCE      bool
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	BotToken    string
	PollTimeout int // long-poll timeout in seconds
}

// PlannerConfig holds the AI playlist planner settings
type PlannerConfig struct {
	APIKey     string
	APIURL     string
	Model      string
	DailyQuota int
	TrackCount int
}

// EncryptionConfig holds the token-encryption keyring. Keys maps key id to
// the raw 32-byte key; ActiveKeyID selects the key used for new ciphertext.
type EncryptionConfig struct {
	Keys        map[string][]byte
	ActiveKeyID string
}

// defaultScopes are the Spotify scopes the bot needs: identity, playback
// state and control, playlist creation.
var defaultScopes = []string{
	"user-read-private",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"playlist-modify-private",
	"playlist-modify-public",
}

// Load loads configuration from environment variables. A missing required
// value is fatal at startup, never a runtime error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables only")
	}

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		Environment: getEnv("ENVIRONMENT", "production"),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("SPOTIFY_REDIRECT_URI"),
			Scopes:       splitScopes(getEnv("SPOTIFY_SCOPES", strings.Join(defaultScopes, " "))),
			UsePKCE:      getEnvBool("SPOTIFY_PKCE", true),
			AuthURL:      getEnv("SPOTIFY_AUTH_URL", "https://accounts.spotify.com/authorize"),
			TokenURL:     getEnv("SPOTIFY_TOKEN_URL", "https://accounts.spotify.com/api/token"),
			APIBaseURL:   getEnv("SPOTIFY_API_URL", "https://api.spotify.com/v1"),
		},
		Telegram: TelegramConfig{
			BotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			PollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 30),
		},
		Planner: PlannerConfig{
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			APIURL:     getEnv("ANTHROPIC_API_URL", "https://api.anthropic.com/v1/messages"),
			Model:      getEnv("PLANNER_MODEL", "claude-3-5-haiku-20241022"),
			DailyQuota: getEnvInt("MIX_DAILY_QUOTA", 5),
			TrackCount: getEnvInt("MIX_TRACK_COUNT", 25),
		},
		Encryption: loadEncryptionConfig(),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "spotigram")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "spotigram")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)
}

// loadEncryptionConfig parses TOKEN_ENCRYPTION_KEYS, a comma-separated list
// of id:base64key pairs, e.g. "k1:K7x...,k2:m9Q...". The active key defaults
// to the first entry and can be pinned with TOKEN_ENCRYPTION_ACTIVE_KEY.
func loadEncryptionConfig() EncryptionConfig {
	raw := os.Getenv("TOKEN_ENCRYPTION_KEYS")
	if raw == "" {
		// Validate reports the missing variable with context.
		return EncryptionConfig{}
	}

	keys := make(map[string][]byte)
	var firstID string
	for _, entry := range strings.Split(raw, ",") {
		id, encoded, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			log.Fatalf("TOKEN_ENCRYPTION_KEYS entry %q is not id:base64key", entry)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Fatalf("TOKEN_ENCRYPTION_KEYS entry %q: invalid base64: %v", id, err)
		}
		if firstID == "" {
			firstID = id
		}
		keys[id] = key
	}

	return EncryptionConfig{
		Keys:        keys,
		ActiveKeyID: getEnv("TOKEN_ENCRYPTION_ACTIVE_KEY", firstID),
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid BASE_URL: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Spotify.ClientID == "" {
		return fmt.Errorf("SPOTIFY_CLIENT_ID is required")
	}
	if c.Spotify.RedirectURI == "" {
		return fmt.Errorf("SPOTIFY_REDIRECT_URI is required")
	}
	if !c.Spotify.UsePKCE && c.Spotify.ClientSecret == "" {
		return fmt.Errorf("SPOTIFY_CLIENT_SECRET is required when SPOTIFY_PKCE is disabled")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Planner.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if len(c.Encryption.Keys) == 0 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEYS is required")
	}
	if _, ok := c.Encryption.Keys[c.Encryption.ActiveKeyID]; !ok {
		return fmt.Errorf("TOKEN_ENCRYPTION_ACTIVE_KEY %q not present in keyring", c.Encryption.ActiveKeyID)
	}
	return nil
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("Invalid boolean for %s, using default %t", key, fallback)
	}
	return fallback
}
