package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/spotify"
	"github.com/avelens/spotigram/internal/store"
)

// HandleLogin begins the Spotify authorization flow for a Telegram user.
// The bot links here (`/spotify/login?telegram_id=...`); the handler ensures
// the user row, records the attempt and redirects to Spotify.
func HandleLogin(users *store.Users, auth *spotify.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telegramID, err := strconv.ParseInt(r.URL.Query().Get("telegram_id"), 10, 64)
		if err != nil {
			http.Error(w, "telegram_id is required", http.StatusBadRequest)
			return
		}

		profile := store.UserProfile{TelegramID: telegramID}
		if v := r.URL.Query().Get("username"); v != "" {
			profile.Username = &v
		}
		if v := r.URL.Query().Get("first_name"); v != "" {
			profile.FirstName = &v
		}
		if v := r.URL.Query().Get("last_name"); v != "" {
			profile.LastName = &v
		}

		user, err := users.Ensure(r.Context(), profile)
		if err != nil {
			log.Println("OAuth: Failed to ensure user:", err)
			http.Error(w, "Failed to initiate authorization", http.StatusInternalServerError)
			return
		}

		_, authorizeURL, err := auth.BeginLogin(r.Context(), &user.ID)
		if err != nil {
			log.Println("OAuth: Failed to begin login:", err)
			http.Error(w, "Failed to initiate authorization", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
	}
}

// HandleCallback completes the authorization flow: redeems the single-use
// state, exchanges the code, resolves the Spotify identity and stores the
// credential.
func HandleCallback(creds *store.Credentials, auth *spotify.Authenticator, client *spotify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			// The user declined on Spotify's consent page; no exchange
			// is attempted.
			log.Println("OAuth: Authorization denied by Spotify:", errParam)
			renderResultPage(w, http.StatusBadRequest, "Authorization failed",
				"Spotify did not authorize the request. Return to Telegram and try /link again.")
			return
		}

		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			renderResultPage(w, http.StatusBadRequest, "Invalid callback",
				"The callback was missing its code or state parameter.")
			return
		}

		userID, err := CompleteLogin(r, creds, auth, client, state, code)
		switch {
		case err == nil:
			log.Printf("OAuth: Linked Spotify account for user %d", userID)
			renderResultPage(w, http.StatusOK, "All set!",
				"Your Spotify account is linked. You can close this tab and return to Telegram.")
		case errors.Is(err, apperror.ErrStateAlreadyUsed):
			renderResultPage(w, http.StatusBadRequest, "Link already used",
				"This authorization link was already used. Request a fresh one with /link.")
		case errors.Is(err, apperror.ErrStateNotFound):
			renderResultPage(w, http.StatusBadRequest, "Link expired",
				"This authorization link is unknown or expired. Request a fresh one with /link.")
		case errors.Is(err, apperror.ErrConflict):
			renderResultPage(w, http.StatusConflict, "Account already linked",
				"This Spotify account is already connected to a different Telegram user.")
		case errors.Is(err, apperror.ErrExchangeFailed):
			log.Println("OAuth: Code exchange failed:", err)
			renderResultPage(w, http.StatusBadGateway, "Authorization failed",
				"Spotify rejected the authorization code. Request a fresh link with /link.")
		default:
			log.Println("OAuth: Callback failed:", err)
			renderResultPage(w, http.StatusInternalServerError, "Something went wrong",
				"Could not complete the link. Please try again in a moment.")
		}
	}
}

// CompleteLogin redeems the state and persists the credential, returning the
// linked local user id. The state is consumed regardless of the outcome of
// the later steps.
func CompleteLogin(r *http.Request, creds *store.Credentials, auth *spotify.Authenticator, client *spotify.Client, state, code string) (int64, error) {
	ctx := r.Context()

	verifier, userID, err := auth.Redeem(ctx, state)
	if err != nil {
		return 0, err
	}
	if userID == nil {
		return 0, fmt.Errorf("authorization attempt has no user binding: %w", apperror.ErrStateNotFound)
	}

	grant, err := auth.Exchange(ctx, code, verifier)
	if err != nil {
		return 0, err
	}

	profile, err := client.MeWithToken(ctx, grant.AccessToken)
	if err != nil {
		return 0, fmt.Errorf("fetching spotify identity: %v: %w", err, apperror.ErrExchangeFailed)
	}

	if err := creds.Upsert(ctx, *userID, profile.ID, grant.Scope, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt); err != nil {
		return 0, err
	}
	return *userID, nil
}

// HandleHealth reports service liveness
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func renderResultPage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, title, title, body)
}
