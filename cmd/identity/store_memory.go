package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"parley/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for tests and local development.
// Row locking is not modeled; forUpdate is accepted and ignored.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byNorm map[string]string // username_norm -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]User),
		byNorm: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	norm := NormalizeUsername(username)
	if _, exists := m.byNorm[norm]; exists {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Name == "" {
		u.Name = username
	}

	m.byID[id] = u
	m.byNorm[norm] = id
	return u, nil
}

func (m *MemoryStore) GetByUsername(_ context.Context, username string, _ bool) (User, error) {
	const op = "identity.GetByUsername"

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byNorm[NormalizeUsername(username)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return m.byID[id], nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	const op = "identity.GetByID"

	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

func (m *MemoryStore) UpdateName(_ context.Context, id, name string, now time.Time) (User, error) {
	const op = "identity.UpdateName"

	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty name"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	u.Name = name
	u.UpdatedAt = now
	m.byID[id] = u
	return u, nil
}
