package session

import (
	"context"
	"time"
)

// Store abstracts persistence for session state.
//
// Lock semantics: forUpdate=true must block concurrent readers of the
// same row until the surrounding InTx completes, so refresh rotation is
// linearized per session. Implementations without row locking (memory)
// serialize InTx globally instead.
type Store interface {
	// InTx runs fn inside one transaction; every Store call made through
	// the derived context joins it. Rotation and sign-in run under InTx
	// so the lock and the write commit or roll back together.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Create inserts a new session row.
	Create(ctx context.Context, row Row) error

	// GetByID loads a session row by id.
	// Returns ErrSessionNotFound when no row matches.
	GetByID(ctx context.Context, id string, forUpdate bool) (Row, error)

	// GetByRefreshHash loads a session row by refresh-token hash.
	// Returns ErrSessionNotFound when no row matches, which is also what
	// a just-rotated (stale) token produces.
	GetByRefreshHash(ctx context.Context, refreshHash string, forUpdate bool) (Row, error)

	// Rotate replaces the refresh hash in place and slides the expiry.
	// The session id is stable across rotations.
	Rotate(ctx context.Context, id, newRefreshHash string, expiresAt, now time.Time) error

	// Delete removes a session addressed by ref.
	// Returns ErrSessionNotFound when nothing was deleted.
	Delete(ctx context.Context, ref Ref) error

	// DeleteExpired removes every session with expires_at <= now and
	// reports how many rows went away.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
