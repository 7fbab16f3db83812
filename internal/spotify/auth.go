package spotify

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/config"
	"github.com/avelens/spotigram/internal/store"
)

// TokenGrant is the fixed-shape result of a token endpoint call. Responses
// are parsed into it at the boundary; loosely-typed payloads never travel
// further in.
type TokenGrant struct {
	AccessToken  string
	RefreshToken *string
	Scope        string
	ExpiresAt    time.Time
}

// Authenticator drives the Authorization Code flow against Spotify: it hands
// out authorize URLs with a persisted state/verifier pair, exchanges
// callback codes, and refreshes access tokens.
type Authenticator struct {
	conf     *oauth2.Config
	attempts *store.Attempts
	usePKCE  bool
}

// NewAuthenticator creates an authenticator for the configured Spotify app
func NewAuthenticator(cfg config.SpotifyConfig, attempts *store.Attempts) *Authenticator {
	return &Authenticator{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		attempts: attempts,
		usePKCE:  cfg.UsePKCE,
	}
}

// BeginLogin starts an authorization attempt for a user. The state/verifier
// pair is persisted before the URL is returned; a state collision is retried
// with fresh entropy and surfaces as a conflict if it somehow repeats.
func (a *Authenticator) BeginLogin(ctx context.Context, userID *int64) (state, authorizeURL string, err error) {
	verifier := oauth2.GenerateVerifier()

	for attempt := 0; attempt < 3; attempt++ {
		state, err = generateState()
		if err != nil {
			return "", "", err
		}
		err = a.attempts.Record(ctx, state, verifier, userID)
		if err == nil {
			break
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return "", "", err
		}
	}
	if err != nil {
		return "", "", err
	}

	opts := []oauth2.AuthCodeOption{}
	if a.usePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return state, a.conf.AuthCodeURL(state, opts...), nil
}

// Redeem consumes the stored attempt for a callback state, returning its
// verifier and user binding. At most one redemption per state succeeds.
func (a *Authenticator) Redeem(ctx context.Context, state string) (codeVerifier string, userID *int64, err error) {
	return a.attempts.Redeem(ctx, state)
}

// Exchange trades an authorization code plus its stored verifier for tokens.
// A rejection by Spotify (expired code, redirect URI mismatch, revoked
// client) is apperror.ErrExchangeFailed; failures to reach the endpoint are
// transient.
func (a *Authenticator) Exchange(ctx context.Context, code, codeVerifier string) (*TokenGrant, error) {
	opts := []oauth2.AuthCodeOption{}
	if a.usePKCE {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := a.conf.Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("spotify rejected code exchange (%s): %w", retrieveErr.ErrorCode, apperror.ErrExchangeFailed)
		}
		return nil, fmt.Errorf("token endpoint unreachable: %w", apperror.ErrTransient)
	}

	grant, err := grantFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperror.ErrExchangeFailed)
	}
	return grant, nil
}

// Refresh obtains a new access token from a refresh token. invalid_grant
// means the refresh token is dead and the user must re-authorize; anything
// else that keeps stored state valid is transient.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	src := a.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		// invalid_grant means the refresh token is revoked or expired.
		// Other 4xx/5xx responses and network failures leave the stored
		// credential plausibly valid, so they stay retryable.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("refresh token rejected: %w", apperror.ErrReauthorizationRequired)
		}
		return nil, fmt.Errorf("token refresh failed: %w", apperror.ErrTransient)
	}

	grant, err := grantFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperror.ErrTransient)
	}
	// Spotify does not always rotate the refresh token; only report one
	// when it actually changed.
	if grant.RefreshToken != nil && *grant.RefreshToken == refreshToken {
		grant.RefreshToken = nil
	}
	return grant, nil
}

func grantFromToken(tok *oauth2.Token) (*TokenGrant, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	if tok.Expiry.IsZero() {
		return nil, errors.New("token response missing expires_in")
	}

	grant := &TokenGrant{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		grant.RefreshToken = &rt
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Scope = strings.TrimSpace(scope)
	}
	return grant, nil
}

// generateState returns a random URL-safe state token (256 bits).
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
