package authapi

import (
	"net/http"
	"strings"

	"parley/cmd/internal/auth/session"
)

// Token pair carriage.
//
// Both tokens travel in one Authorization header, separated by a pipe:
//
//	Authorization: Bearer <access>|<refresh>
//
// The carriage is symmetric: requests present the pair this way, and
// whenever the server rotates the pair it writes the replacement into
// the response's Authorization header. A client that mirrors the most
// recent response header never holds a dead refresh token.
//
// A header with no pipe is treated as access-token-only; that is enough
// for the fast path but cannot recover from access expiry.

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
	pairSeparator       = "|"
)

// FormatAuthorization renders a token pair as an Authorization header value.
func FormatAuthorization(pair session.TokenPair) string {
	if pair.Refresh == "" {
		return bearerScheme + " " + pair.Access
	}
	return bearerScheme + " " + pair.Access + pairSeparator + pair.Refresh
}

// ParseAuthorization splits an Authorization header value into the token
// pair. ok is false when the header is absent or not a bearer credential.
func ParseAuthorization(raw string) (access, refresh string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) {
		return "", "", false
	}

	cred := strings.TrimSpace(parts[1])
	if cred == "" {
		return "", "", false
	}

	access, refresh, _ = strings.Cut(cred, pairSeparator)
	return strings.TrimSpace(access), strings.TrimSpace(refresh), true
}

func pairFromRequest(r *http.Request) (access, refresh string, ok bool) {
	return ParseAuthorization(r.Header.Get(authorizationHeader))
}

func setPairHeader(w http.ResponseWriter, pair session.TokenPair) {
	w.Header().Set(authorizationHeader, FormatAuthorization(pair))
}
