package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
//
// It has no row locks; InTx serializes on one mutex instead, which gives
// the same observable guarantee the Postgres FOR UPDATE path provides:
// at most one rotation in flight per store.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Row
	byHash map[string]string // refresh hash -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Row),
		byHash: make(map[string]string),
	}
}

type memTxKey struct{}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

// lockedCall takes the mutex unless the context already runs inside InTx.
func (m *MemoryStore) lockedCall(ctx context.Context, fn func() error) error {
	if ctx.Value(memTxKey{}) == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn()
}

func (m *MemoryStore) Create(ctx context.Context, row Row) error {
	return m.lockedCall(ctx, func() error {
		m.byID[row.ID] = row
		m.byHash[row.RefreshTokenHash] = row.ID
		return nil
	})
}

func (m *MemoryStore) GetByID(ctx context.Context, id string, _ bool) (Row, error) {
	var out Row
	err := m.lockedCall(ctx, func() error {
		row, ok := m.byID[id]
		if !ok {
			return ErrSessionNotFound
		}
		out = row
		return nil
	})
	return out, err
}

func (m *MemoryStore) GetByRefreshHash(ctx context.Context, refreshHash string, _ bool) (Row, error) {
	var out Row
	err := m.lockedCall(ctx, func() error {
		id, ok := m.byHash[refreshHash]
		if !ok {
			return ErrSessionNotFound
		}
		out = m.byID[id]
		return nil
	})
	return out, err
}

func (m *MemoryStore) Rotate(ctx context.Context, id, newRefreshHash string, expiresAt, now time.Time) error {
	return m.lockedCall(ctx, func() error {
		row, ok := m.byID[id]
		if !ok {
			return ErrSessionNotFound
		}
		delete(m.byHash, row.RefreshTokenHash)
		row.RefreshTokenHash = newRefreshHash
		row.ExpiresAt = expiresAt
		row.UpdatedAt = now
		m.byID[id] = row
		m.byHash[newRefreshHash] = id
		return nil
	})
}

func (m *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	return m.lockedCall(ctx, func() error {
		var id string
		switch ref.Kind() {
		case RefByID:
			id = ref.Value()
		case RefByToken:
			id = m.byHash[ref.Value()]
		}
		row, ok := m.byID[id]
		if !ok {
			return ErrSessionNotFound
		}
		delete(m.byID, id)
		delete(m.byHash, row.RefreshTokenHash)
		return nil
	})
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.lockedCall(ctx, func() error {
		for id, row := range m.byID {
			if !row.ExpiresAt.After(now) {
				delete(m.byID, id)
				delete(m.byHash, row.RefreshTokenHash)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Len reports the number of live sessions. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
