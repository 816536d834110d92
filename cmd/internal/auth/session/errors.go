package session

import "errors"

var (
	// ErrInvalidCredentials is returned by SignIn for an unknown username or
	// a wrong password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized is the client-facing failure for every session problem:
	// bad token, missing session, expired session, lost rotation race.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is returned when an access token fails signature or
	// claim verification for any reason other than expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when an access token is expired but
	// otherwise well-formed; callers fall through to the refresh path.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned by stores when a refresh token or
	// session id matches no row. Collapsed to ErrUnauthorized at the
	// service boundary.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session row exists but its
	// expiry has passed. The row is deleted before this error surfaces.
	ErrSessionExpired = errors.New("session expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// unauthorized wraps an internal cause so errors.Is matches both
// ErrUnauthorized and the cause, while clients only ever see the former.
func unauthorized(cause error) error {
	if cause == nil {
		return ErrUnauthorized
	}
	return errors.Join(ErrUnauthorized, cause)
}
