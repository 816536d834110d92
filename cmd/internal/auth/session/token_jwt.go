package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec issues and verifies short-lived access tokens. The caller supplies
// now explicitly so token lifetimes are deterministic under test.
type Codec interface {
	// Issue signs an access token embedding id. Returns the token and its
	// expiry.
	Issue(id Identity, now time.Time) (tok string, exp time.Time, err error)

	// Decode verifies a token and extracts the embedded identity.
	// Returns ErrTokenExpired for a well-formed but expired token and
	// ErrInvalidToken for everything else that fails.
	Decode(tok string, now time.Time) (Identity, error)
}

type accessClaims struct {
	SessionID string `json:"sid"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	jwt.RegisteredClaims
}

type hs256Codec struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	secret []byte
}

// NewJWTCodec builds a Codec based on HS256-signed JWTs.
//
// The full display identity rides in the claims, so the fast path never
// needs a user-store round trip. Clock skew is tolerated via leeway
// during verification.
func NewJWTCodec(cfg Config) (Codec, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, ErrConfig
	}
	return &hs256Codec{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		skew:   cfg.ClockSkew,
		secret: cfg.JWTSecret,
	}, nil
}

func (c *hs256Codec) Issue(id Identity, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.ttl)

	claims := accessClaims{
		SessionID: id.SessionID,
		Username:  id.Username,
		Name:      id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *hs256Codec) Decode(tok string, now time.Time) (Identity, error) {
	claims := &accessClaims{}

	_, err := jwt.ParseWithClaims(tok, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		// Expiry is the only failure the caller may recover from
		// (via the refresh path); everything else is terminal.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}

	if claims.SessionID == "" || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		SessionID: claims.SessionID,
		UserID:    claims.Subject,
		Username:  claims.Username,
		Name:      claims.Name,
	}, nil
}
