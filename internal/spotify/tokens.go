package spotify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/store"
)

// RefreshSkew is subtracted from the stored expiry when deciding whether a
// token is still usable, so a token is never handed out in its final moments.
const RefreshSkew = 60 * time.Second

// refreshTimeout bounds one refresh round trip including the store write.
const refreshTimeout = 15 * time.Second

// TokenManager hands out currently-valid access tokens, refreshing expired
// ones transparently. Concurrent callers for one user share a single
// in-flight refresh: late joiners wait on the existing attempt instead of
// issuing their own.
type TokenManager struct {
	creds *store.Credentials
	auth  *Authenticator
	skew  time.Duration
	group singleflight.Group
}

// NewTokenManager creates a token manager
func NewTokenManager(creds *store.Credentials, auth *Authenticator) *TokenManager {
	return &TokenManager{
		creds: creds,
		auth:  auth,
		skew:  RefreshSkew,
	}
}

// GetValidAccessToken returns an access token guaranteed to outlive the skew
// window. A stored unexpired token is returned with no network call.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, userID int64) (string, error) {
	cred, err := m.creds.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if m.fresh(cred) {
		return cred.AccessToken, nil
	}

	token, err, _ := m.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		// The refresh outlives the caller that happened to start it;
		// waiters sharing the flight must not lose the result to the
		// first caller navigating away.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		// Another waiter may have refreshed while this one queued.
		cred, err := m.creds.Get(rctx, userID)
		if err != nil {
			return "", err
		}
		if m.fresh(cred) {
			return cred.AccessToken, nil
		}
		return m.refresh(rctx, userID, cred)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// ForceRefresh refreshes regardless of the stored expiry. The Web API client
// uses it when Spotify answers 401 to a token that looked fresh locally.
func (m *TokenManager) ForceRefresh(ctx context.Context, userID int64) (string, error) {
	token, err, _ := m.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		cred, err := m.creds.Get(rctx, userID)
		if err != nil {
			return "", err
		}
		return m.refresh(rctx, userID, cred)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *TokenManager) fresh(cred *store.Credential) bool {
	return time.Now().Before(cred.ExpiresAt.Add(-m.skew))
}

// refresh performs one upstream refresh and persists the result. On a dead
// refresh token the credential is discarded so the user is forced back
// through login; on transient failures nothing is mutated.
func (m *TokenManager) refresh(ctx context.Context, userID int64, cred *store.Credential) (string, error) {
	if cred.RefreshToken == nil {
		// PKCE-only grant without a refresh token cannot be renewed.
		if err := m.creds.Delete(ctx, userID); err != nil {
			log.Printf("Tokens: failed to discard non-renewable credential for user %d: %v", userID, err)
		}
		return "", fmt.Errorf("no refresh token stored: %w", apperror.ErrReauthorizationRequired)
	}

	grant, err := m.auth.Refresh(ctx, *cred.RefreshToken)
	if errors.Is(err, apperror.ErrReauthorizationRequired) {
		if derr := m.creds.Delete(ctx, userID); derr != nil {
			log.Printf("Tokens: failed to delete revoked credential for user %d: %v", userID, derr)
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	if err := m.creds.UpdateTokens(ctx, userID, grant.AccessToken, grant.ExpiresAt, grant.RefreshToken); err != nil {
		if errors.Is(err, apperror.ErrNotLinked) {
			// Disconnected mid-refresh; the fresh token dies with it.
			return "", apperror.ErrNotLinked
		}
		return "", fmt.Errorf("persisting refreshed tokens: %w", apperror.ErrTransient)
	}
	return grant.AccessToken, nil
}
