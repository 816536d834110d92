package identity

import (
	"context"
	"time"
)

// User is Parley's canonical security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Name         string

	// PasswordHash is the encoded Argon2id hash (cmd/security/password).
	// The plain password is never stored.
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a user registration request.
type CreateUserInput struct {
	Username     string
	Name         string
	PasswordHash string
	Now          time.Time
}

// Store is the user persistence boundary.
//
// Lookups accept forUpdate so sign-in can lock the user row for the
// duration of the credential check + session creation transaction.
// Implementations backed by stores without row locking may ignore it.
type Store interface {
	Create(ctx context.Context, in CreateUserInput) (User, error)

	// GetByUsername resolves a user by normalized username.
	// Returns NotFoundError when no such user exists.
	GetByUsername(ctx context.Context, username string, forUpdate bool) (User, error)

	GetByID(ctx context.Context, id string) (User, error)

	// UpdateName changes the display name.
	UpdateName(ctx context.Context, id, name string, now time.Time) (User, error)
}
