package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"parley/cmd/internal/auth/session"
)

// fakeSessionAuth rotates tokens deterministically and can be flipped to
// reject every refresh.
type fakeSessionAuth struct {
	identity session.Identity
	rotation int
	dead     bool

	lastRefresh string
}

func (f *fakeSessionAuth) Validate(_ context.Context, _, refresh string, _ time.Time) (session.Identity, *session.TokenPair, error) {
	if f.dead {
		return session.Identity{}, nil, session.ErrUnauthorized
	}
	f.lastRefresh = refresh
	f.rotation++
	pair := &session.TokenPair{
		Access:  fmt.Sprintf("access-%d", f.rotation),
		Refresh: fmt.Sprintf("refresh-%d", f.rotation),
	}
	return f.identity, pair, nil
}

func (f *fakeSessionAuth) ValidateForSocket(_ context.Context, _ string, _ time.Time) (session.Identity, error) {
	if f.dead {
		return session.Identity{}, session.ErrUnauthorized
	}
	return f.identity, nil
}

func newTestBridge(t *testing.T) (*Bridge, *MemorySnapshotCache, *fakeSessionAuth) {
	t.Helper()

	cache := NewMemorySnapshotCache()
	auth := &fakeSessionAuth{
		identity: session.Identity{
			SessionID: "sess-1",
			UserID:    "user-1",
			Username:  "alice",
			Name:      "Alice",
		},
	}
	b, err := NewBridge(nil, cache, auth, time.Hour)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return b, cache, auth
}

func TestBridgeAttachLookupDetach(t *testing.T) {
	ctx := context.Background()
	b, _, auth := newTestBridge(t)

	if err := b.Attach(ctx, "conn-1", auth.identity, "refresh-0"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	snap, err := b.Lookup(ctx, "conn-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if snap.SessionID != "sess-1" || snap.UserID != "user-1" || snap.RefreshToken != "refresh-0" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := snap.Identity(); got != auth.identity {
		t.Fatalf("identity round trip: %+v", got)
	}

	if err := b.Detach(ctx, "conn-1"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := b.Lookup(ctx, "conn-1"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("lookup after detach: %v", err)
	}

	// Detaching again is a no-op.
	if err := b.Detach(ctx, "conn-1"); err != nil {
		t.Fatalf("second detach: %v", err)
	}
}

func TestBridgeLookupSlidesTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemorySnapshotCache()
	auth := &fakeSessionAuth{identity: session.Identity{SessionID: "s", UserID: "u", Username: "a", Name: "A"}}

	b, err := NewBridge(nil, cache, auth, time.Minute)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cache.SetNow(func() time.Time { return now })

	if err := b.Attach(ctx, "conn-1", auth.identity, "r0"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// Keep the connection active past the original TTL.
	for i := 0; i < 3; i++ {
		now = now.Add(45 * time.Second)
		if _, err := b.Lookup(ctx, "conn-1"); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}

	// A dormant connection does age out.
	now = now.Add(2 * time.Minute)
	if _, err := b.Lookup(ctx, "conn-1"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("dormant lookup: %v", err)
	}
}

func TestBridgeReauthenticateRotatesSnapshot(t *testing.T) {
	ctx := context.Background()
	b, _, auth := newTestBridge(t)
	now := time.Now().UTC()

	if err := b.Attach(ctx, "conn-1", auth.identity, "refresh-0"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	id, pair, err := b.Reauthenticate(ctx, "conn-1", now)
	if err != nil {
		t.Fatalf("reauth: %v", err)
	}
	if id != auth.identity {
		t.Fatalf("identity = %+v", id)
	}
	if pair == nil || pair.Refresh != "refresh-1" {
		t.Fatalf("pair = %+v", pair)
	}
	if auth.lastRefresh != "refresh-0" {
		t.Fatalf("rotation consumed %q, want the cached token", auth.lastRefresh)
	}

	// The snapshot now holds the rotated token; the next reauth consumes it.
	if _, pair, err = b.Reauthenticate(ctx, "conn-1", now); err != nil {
		t.Fatalf("second reauth: %v", err)
	}
	if auth.lastRefresh != "refresh-1" {
		t.Fatalf("second rotation consumed %q, want refresh-1", auth.lastRefresh)
	}
	if pair.Refresh != "refresh-2" {
		t.Fatalf("second pair = %+v", pair)
	}
}

func TestBridgeReauthenticateDeadSession(t *testing.T) {
	ctx := context.Background()
	b, _, auth := newTestBridge(t)
	now := time.Now().UTC()

	if err := b.Attach(ctx, "conn-1", auth.identity, "refresh-0"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	auth.dead = true

	_, _, err := b.Reauthenticate(ctx, "conn-1", now)
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("reauth err = %v, want unauthorized", err)
	}

	// The snapshot is gone; the connection must re-handshake.
	if _, err := b.Lookup(ctx, "conn-1"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("lookup after dead reauth: %v", err)
	}
}

func TestBridgeReauthenticateUnattached(t *testing.T) {
	b, _, _ := newTestBridge(t)
	_, _, err := b.Reauthenticate(context.Background(), "ghost", time.Now().UTC())
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("err = %v, want ErrNotAttached", err)
	}
}
