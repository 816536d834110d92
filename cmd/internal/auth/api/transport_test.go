package authapi

import (
	"testing"

	"parley/cmd/internal/auth/session"
)

func TestAuthorizationRoundTrip(t *testing.T) {
	pair := session.TokenPair{Access: "acc.token.x", Refresh: "ref-token-y"}

	raw := FormatAuthorization(pair)
	if raw != "Bearer acc.token.x|ref-token-y" {
		t.Fatalf("formatted header = %q", raw)
	}

	access, refresh, ok := ParseAuthorization(raw)
	if !ok {
		t.Fatalf("parse failed")
	}
	if access != pair.Access || refresh != pair.Refresh {
		t.Fatalf("round trip mismatch: %q %q", access, refresh)
	}
}

func TestParseAuthorization(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		access  string
		refresh string
		ok      bool
	}{
		{name: "empty", raw: "", ok: false},
		{name: "no scheme", raw: "acc|ref", ok: false},
		{name: "wrong scheme", raw: "Basic dXNlcg==", ok: false},
		{name: "bare scheme", raw: "Bearer ", ok: false},
		{name: "access only", raw: "Bearer acc", access: "acc", ok: true},
		{name: "full pair", raw: "Bearer acc|ref", access: "acc", refresh: "ref", ok: true},
		{name: "lowercase scheme", raw: "bearer acc|ref", access: "acc", refresh: "ref", ok: true},
		{name: "padded", raw: "  Bearer  acc|ref ", access: "acc", refresh: "ref", ok: true},
		{name: "empty access with refresh", raw: "Bearer |ref", access: "", refresh: "ref", ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			access, refresh, ok := ParseAuthorization(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if access != tc.access || refresh != tc.refresh {
				t.Fatalf("got (%q, %q), want (%q, %q)", access, refresh, tc.access, tc.refresh)
			}
		})
	}
}

func TestFormatAuthorizationAccessOnly(t *testing.T) {
	raw := FormatAuthorization(session.TokenPair{Access: "only"})
	if raw != "Bearer only" {
		t.Fatalf("header = %q", raw)
	}
}
