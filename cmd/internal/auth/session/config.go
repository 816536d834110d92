package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, the sliding session TTL, clock skew
// tolerance, refresh entropy size, lock acquisition bounds, and the JWT
// signing secret. Explicit and environment-driven so deployments can tune
// security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of signed access tokens. It is
	// also the upper bound on how long a revoked session keeps working.
	AccessTokenTTL time.Duration

	// SessionTTL is the sliding refresh-token lifetime: every successful
	// rotation pushes the session expiry to now + SessionTTL.
	SessionTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// LockTimeout bounds SELECT ... FOR UPDATE acquisition during rotation.
	// A timed-out lock fails closed as ErrUnauthorized.
	LockTimeout time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// JWTSecret is the HS256 signing key for access tokens.
	JWTSecret []byte
}

// DefaultConfig returns a secure default configuration suitable for
// development. Production overrides values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "parley",
		AccessTokenTTL:    15 * time.Minute,
		SessionTTL:        7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		LockTimeout:       3 * time.Second,
		RefreshTokenBytes: 48,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PARLEY_JWT_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - PARLEY_AUTH_ISSUER
//   - PARLEY_AUTH_ACCESS_TTL
//   - PARLEY_AUTH_SESSION_TTL
//   - PARLEY_AUTH_CLOCK_SKEW
//   - PARLEY_AUTH_LOCK_TIMEOUT
//   - PARLEY_AUTH_REFRESH_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PARLEY_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PARLEY_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("PARLEY_AUTH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("PARLEY_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("PARLEY_AUTH_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LockTimeout = d
	}

	if v := os.Getenv("PARLEY_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	secret := os.Getenv("PARLEY_JWT_SECRET")
	if len(secret) < 32 {
		return Config{}, ErrConfig
	}
	cfg.JWTSecret = []byte(secret)

	// Invariant: access tokens must not outlive the session itself.
	if cfg.AccessTokenTTL >= cfg.SessionTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
