package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testCodecConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.AccessTokenTTL = 15 * time.Minute
	cfg.ClockSkew = 30 * time.Second
	return cfg
}

func TestJWTCodec_RoundTrip(t *testing.T) {
	codec, err := NewJWTCodec(testCodecConfig())
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := Identity{
		SessionID: "01HSESSION",
		UserID:    "01HUSER",
		Username:  "alice",
		Name:      "Alice Cooper",
	}

	tok, exp, err := codec.Issue(want, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("exp = %v, want %v", exp, now.Add(15*time.Minute))
	}

	got, err := codec.Decode(tok, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("identity = %+v, want %+v", got, want)
	}
}

func TestJWTCodec_Expired(t *testing.T) {
	codec, err := NewJWTCodec(testCodecConfig())
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, _, err := codec.Issue(Identity{SessionID: "s", UserID: "u"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Well past TTL + skew.
	_, err = codec.Decode(tok, now.Add(time.Hour))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Decode expired: err = %v, want ErrTokenExpired", err)
	}
}

func TestJWTCodec_SkewTolerance(t *testing.T) {
	codec, err := NewJWTCodec(testCodecConfig())
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, exp, err := codec.Issue(Identity{SessionID: "s", UserID: "u"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Expired by less than the configured skew: still accepted.
	if _, err := codec.Decode(tok, exp.Add(10*time.Second)); err != nil {
		t.Fatalf("Decode within skew: %v", err)
	}
	// Expired beyond skew: rejected.
	if _, err := codec.Decode(tok, exp.Add(time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Decode beyond skew: err = %v, want ErrTokenExpired", err)
	}
}

func TestJWTCodec_Invalid(t *testing.T) {
	cfg := testCodecConfig()
	codec, err := NewJWTCodec(cfg)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, _, err := codec.Issue(Identity{SessionID: "s", UserID: "u"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	t.Run("garbage", func(t *testing.T) {
		if _, err := codec.Decode("not.a.token", now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(tok, ".")
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		if _, err := codec.Decode(tampered, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := cfg
		other.JWTSecret = []byte("ffffffffffffffffffffffffffffffff")
		otherCodec, err := NewJWTCodec(other)
		if err != nil {
			t.Fatalf("NewJWTCodec: %v", err)
		}
		if _, err := otherCodec.Decode(tok, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := cfg
		other.Issuer = "someone-else"
		otherCodec, err := NewJWTCodec(other)
		if err != nil {
			t.Fatalf("NewJWTCodec: %v", err)
		}
		foreign, _, err := otherCodec.Issue(Identity{SessionID: "s", UserID: "u"}, now)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := codec.Decode(foreign, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})
}

func TestNewJWTCodec_RejectsShortSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("short")
	if _, err := NewJWTCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
