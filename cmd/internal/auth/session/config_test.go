package session

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PARLEY_JWT_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "parley" {
		t.Fatalf("Issuer = %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PARLEY_AUTH_ACCESS_TTL", "5m")
	t.Setenv("PARLEY_AUTH_SESSION_TTL", "48h")
	t.Setenv("PARLEY_AUTH_LOCK_TIMEOUT", "500ms")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.SessionTTL != 48*time.Hour {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.LockTimeout != 500*time.Millisecond {
		t.Fatalf("LockTimeout = %v", cfg.LockTimeout)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("PARLEY_JWT_SECRET", "")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("err = %v, want ErrConfig", err)
		}
	})

	t.Run("short secret", func(t *testing.T) {
		t.Setenv("PARLEY_JWT_SECRET", "too-short")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("err = %v, want ErrConfig", err)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PARLEY_AUTH_ACCESS_TTL", "soon")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("err = %v, want ErrConfig", err)
		}
	})

	t.Run("access outlives session", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PARLEY_AUTH_ACCESS_TTL", "48h")
		t.Setenv("PARLEY_AUTH_SESSION_TTL", "24h")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("err = %v, want ErrConfig", err)
		}
	})

	t.Run("refresh entropy out of range", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PARLEY_AUTH_REFRESH_TOKEN_BYTES", "8")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("err = %v, want ErrConfig", err)
		}
	})
}
