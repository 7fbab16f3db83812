package apperror

import "errors"

// Sentinel errors for the Spotify credential lifecycle. Everything the HTTP
// handlers and the bot branch on is declared here; raw storage and transport
// errors are wrapped before they cross this boundary.
var (
	// ErrNotLinked means the user has no stored Spotify credential yet.
	ErrNotLinked = errors.New("spotify account not linked")

	// ErrReauthorizationRequired means the refresh token was rejected by
	// Spotify and the credential has been discarded.
	ErrReauthorizationRequired = errors.New("spotify reauthorization required")

	// ErrTransient marks network or 5xx failures that the caller may retry.
	// Stored state is unchanged when this is returned.
	ErrTransient = errors.New("transient upstream failure")

	// ErrStateNotFound means no matching unused, unexpired authorization
	// attempt exists for a state token.
	ErrStateNotFound = errors.New("authorization state not found")

	// ErrStateAlreadyUsed means the authorization attempt was already redeemed.
	ErrStateAlreadyUsed = errors.New("authorization state already used")

	// ErrConflict covers uniqueness violations: a state collision, or a
	// Spotify account already linked to a different local user.
	ErrConflict = errors.New("conflict")

	// ErrExchangeFailed means Spotify rejected the authorization code
	// exchange. Terminal for the attempt; the user must restart login.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// IsRetryable reports whether the caller may retry the operation with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
