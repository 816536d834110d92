package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"parley/cmd/internal/pg"
)

// PostgresStore implements Store over PostgreSQL.
//
// - The pg.DB is owned by the caller; this store must NOT close it.
// - InTx applies the configured lock_timeout so FOR UPDATE acquisition
//   is bounded; a timed-out lock surfaces via pg.IsLockTimeout.
type PostgresStore struct {
	db          *pg.DB
	schema      string
	lockTimeout time.Duration
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithLockTimeout bounds row-lock acquisition inside InTx.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if d <= 0 {
			return fmt.Errorf("session: non-positive lock timeout")
		}
		s.lockTimeout = d
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with safe defaults.
func NewPostgresStore(db *pg.DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		db:          db,
		schema:      "parley",
		lockTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("session: nil db")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return fmt.Sprintf("%q.%q", s.schema, "sessions")
}

const rowColumns = "id, user_id, refresh_token_hash, created_at, updated_at, expires_at"

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.InTx(ctx, func(ctx context.Context) error {
		if err := pg.SetLocalLockTimeout(ctx, s.db.Q(ctx), s.lockTimeout.Milliseconds()); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, refresh_token_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.table())

	_, err := s.db.Q(ctx).Exec(ctx, q,
		row.ID, row.UserID, row.RefreshTokenHash, row.CreatedAt, row.UpdatedAt, row.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string, forUpdate bool) (Row, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, rowColumns, s.table())
	if forUpdate {
		q += " FOR UPDATE"
	}
	return s.scanRow(ctx, q, id)
}

func (s *PostgresStore) GetByRefreshHash(ctx context.Context, refreshHash string, forUpdate bool) (Row, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE refresh_token_hash = $1`, rowColumns, s.table())
	if forUpdate {
		q += " FOR UPDATE"
	}
	return s.scanRow(ctx, q, refreshHash)
}

func (s *PostgresStore) scanRow(ctx context.Context, q string, arg any) (Row, error) {
	var row Row
	err := s.db.Q(ctx).QueryRow(ctx, q, arg).Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.UpdatedAt,
		&row.ExpiresAt,
	)
	if pg.IsNoRows(err) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("session: get: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, id, newRefreshHash string, expiresAt, now time.Time) error {
	q := fmt.Sprintf(`
		UPDATE %s
		SET refresh_token_hash = $2, expires_at = $3, updated_at = $4
		WHERE id = $1
	`, s.table())

	tag, err := s.db.Q(ctx).Exec(ctx, q, id, newRefreshHash, expiresAt, now)
	if err != nil {
		return fmt.Errorf("session: rotate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ref Ref) error {
	var q string
	switch ref.Kind() {
	case RefByID:
		q = fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table())
	case RefByToken:
		q = fmt.Sprintf(`DELETE FROM %s WHERE refresh_token_hash = $1`, s.table())
	default:
		return fmt.Errorf("session: delete: zero ref")
	}

	tag, err := s.db.Q(ctx).Exec(ctx, q, ref.Value())
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table())

	tag, err := s.db.Q(ctx).Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("session: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
