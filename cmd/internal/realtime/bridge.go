package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parley/cmd/internal/auth/session"
)

// ErrNotAttached is returned when a connection has no session snapshot.
var ErrNotAttached = errors.New("socket session not attached")

// Snapshot is the flattened session state cached per websocket connection.
// It is derived and disposable: losing it forces a re-handshake, never a
// security failure. The session store stays authoritative.
type Snapshot struct {
	SessionID    string
	UserID       string
	Username     string
	Name         string
	RefreshToken string
}

// Identity rebuilds the auth identity carried by the snapshot.
func (s Snapshot) Identity() session.Identity {
	return session.Identity{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Username:  s.Username,
		Name:      s.Name,
	}
}

// SnapshotCache stores connection snapshots with a sliding TTL.
type SnapshotCache interface {
	// Put stores snap under connID with the given TTL, replacing any
	// previous snapshot.
	Put(ctx context.Context, connID string, snap Snapshot, ttl time.Duration) error

	// Get loads the snapshot for connID. Returns ErrNotAttached when the
	// key is missing or expired.
	Get(ctx context.Context, connID string) (Snapshot, error)

	// Touch resets the TTL without changing the snapshot.
	Touch(ctx context.Context, connID string, ttl time.Duration) error

	// Del removes the snapshot. Deleting a missing key is a no-op.
	Del(ctx context.Context, connID string) error
}

// SessionAuth is the slice of the session service the realtime layer needs.
type SessionAuth interface {
	Validate(ctx context.Context, access, refresh string, now time.Time) (session.Identity, *session.TokenPair, error)
	ValidateForSocket(ctx context.Context, refresh string, now time.Time) (session.Identity, error)
}

// Bridge ties long-lived websocket connections to the session subsystem.
//
// On handshake the connection's session state is snapshotted into the
// cache under the connection id; mid-connection re-authentication rotates
// the refresh token through the session service and rewrites the
// snapshot, so the socket never holds a stale refresh token.
type Bridge struct {
	log   *slog.Logger
	cache SnapshotCache
	auth  SessionAuth
	ttl   time.Duration
}

// NewBridge constructs a Bridge. TTL bounds how long a dormant
// connection's snapshot survives in the cache.
func NewBridge(log *slog.Logger, cache SnapshotCache, auth SessionAuth, ttl time.Duration) (*Bridge, error) {
	if cache == nil || auth == nil {
		return nil, errors.New("realtime: nil bridge dependency")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{log: log, cache: cache, auth: auth, ttl: ttl}, nil
}

// Attach snapshots an authenticated connection into the cache.
func (b *Bridge) Attach(ctx context.Context, connID string, id session.Identity, refreshToken string) error {
	snap := Snapshot{
		SessionID:    id.SessionID,
		UserID:       id.UserID,
		Username:     id.Username,
		Name:         id.Name,
		RefreshToken: refreshToken,
	}
	if err := b.cache.Put(ctx, connID, snap, b.ttl); err != nil {
		return fmt.Errorf("realtime: attach %s: %w", connID, err)
	}
	return nil
}

// Lookup resolves a connection to its snapshot and slides the TTL, so
// active connections never age out of the cache.
func (b *Bridge) Lookup(ctx context.Context, connID string) (Snapshot, error) {
	snap, err := b.cache.Get(ctx, connID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := b.cache.Touch(ctx, connID, b.ttl); err != nil {
		// TTL slide is best-effort; the snapshot itself is what matters.
		b.log.Warn("bridge.touch.fail", "conn_id", connID, "err", err)
	}
	return snap, nil
}

// Reauthenticate rotates the connection's refresh token through the
// session service and rewrites the snapshot.
//
// A dead session removes the snapshot and surfaces the auth error: the
// caller must notify the client and drop the connection. A rotation that
// succeeds but fails to persist in the cache still returns the new pair;
// the client holds it and can re-handshake.
func (b *Bridge) Reauthenticate(ctx context.Context, connID string, now time.Time) (session.Identity, *session.TokenPair, error) {
	snap, err := b.cache.Get(ctx, connID)
	if err != nil {
		return session.Identity{}, nil, err
	}

	id, pair, err := b.auth.Validate(ctx, "", snap.RefreshToken, now)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			if derr := b.cache.Del(ctx, connID); derr != nil {
				b.log.Warn("bridge.detach.fail", "conn_id", connID, "err", derr)
			}
		}
		return session.Identity{}, nil, err
	}

	// Validate with an empty access token always takes the refresh path,
	// so pair is non-nil here.
	snap = Snapshot{
		SessionID:    id.SessionID,
		UserID:       id.UserID,
		Username:     id.Username,
		Name:         id.Name,
		RefreshToken: pair.Refresh,
	}
	if err := b.cache.Put(ctx, connID, snap, b.ttl); err != nil {
		b.log.Warn("bridge.snapshot.stale", "conn_id", connID, "err", err)
	}

	return id, pair, nil
}

// Detach removes the connection's snapshot. Idempotent.
func (b *Bridge) Detach(ctx context.Context, connID string) error {
	return b.cache.Del(ctx, connID)
}
