package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avelens/spotigram/internal/spotify"
	"github.com/avelens/spotigram/internal/store"
)

// NewRouter creates the HTTP router: the Spotify authorization surface plus
// a health check. Everything else the service does goes through Telegram.
func NewRouter(users *store.Users, creds *store.Credentials, auth *spotify.Authenticator, client *spotify.Client) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", HandleHealth())

	r.Route("/spotify", func(r chi.Router) {
		r.Get("/login", HandleLogin(users, auth))
		r.Get("/callback", HandleCallback(creds, auth, client))
	})

	return r
}
