package session

import (
	"time"

	"parley/cmd/security/token"
)

// Identity is the authenticated principal propagated across HTTP/WS.
// It carries everything a handler needs without a user-store round trip.
type Identity struct {
	SessionID string
	UserID    string
	Username  string
	Name      string
}

// TokenPair is what clients hold: a signed access token and an opaque
// refresh token. The refresh token is shown to the client exactly once
// per rotation and never logged.
type TokenPair struct {
	Access  string
	Refresh string
}

// Row mirrors the parley.sessions row.
// RefreshTokenHash is the only server-side representation of the refresh
// token; the plain token never touches storage.
type Row struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// RefKind discriminates Ref variants.
type RefKind int

const (
	// RefByID addresses a session by its id.
	RefByID RefKind = iota + 1
	// RefByToken addresses a session by its refresh-token hash.
	RefByToken
)

// Ref addresses a session either by id or by refresh token. Constructing
// one through ByToken hashes immediately, so the plain token never travels
// further than the call site.
type Ref struct {
	kind  RefKind
	value string
}

// ByID addresses a session by id.
func ByID(id string) Ref { return Ref{kind: RefByID, value: id} }

// ByToken addresses a session by its plain refresh token.
func ByToken(plain string) Ref {
	return Ref{kind: RefByToken, value: token.HashRefreshTokenHex(plain)}
}

// Kind returns the variant tag.
func (r Ref) Kind() RefKind { return r.kind }

// Value returns the session id for RefByID, the refresh hash for RefByToken.
func (r Ref) Value() string { return r.value }

// Zero reports whether r was never constructed through ByID/ByToken.
func (r Ref) Zero() bool { return r.kind == 0 }
