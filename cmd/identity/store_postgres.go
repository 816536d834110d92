package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"parley/cmd/identity/ids"
	"parley/cmd/internal/pg"
)

// PostgresStore implements user persistence over PostgreSQL.
//
// - The pg.DB is owned by the caller; this store must NOT close it.
// - Schema identifiers are validated and quoted, never interpolated raw.
// - Methods run on the ambient transaction when the context carries one,
//   so sign-in can lock a user row and create a session atomically.
type PostgresStore struct {
	db     *pg.DB
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with safe defaults.
func NewPostgresStore(db *pg.DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		db:     db,
		schema: "parley",
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
		return nil, fmt.Errorf("identity: nil db")
	}
	return st, nil
}

func (s *PostgresStore) usersTable() string {
	return fmt.Sprintf("%q.%q", s.schema, "users")
}

const userColumns = "id, username, username_norm, name, password_hash, created_at, updated_at"

func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
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

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, fmt.Errorf("%s: ulid: %w", op, err)
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: NormalizeUsername(username),
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Name == "" {
		u.Name = username
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, username, username_norm, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.usersTable())

	_, err = s.db.Q(ctx).Exec(ctx, q,
		u.ID, u.Username, u.UsernameNorm, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string, forUpdate bool) (User, error) {
	const op = "identity.GetByUsername"

	norm := NormalizeUsername(username)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty username"}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE username_norm = $1`, userColumns, s.usersTable())
	if forUpdate {
		q += " FOR UPDATE"
	}

	u, err := s.scanUser(s.db.Q(ctx).QueryRow(ctx, q, norm))
	if err != nil {
		if pg.IsNoRows(err) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"

	if strings.TrimSpace(id) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, userColumns, s.usersTable())

	u, err := s.scanUser(s.db.Q(ctx).QueryRow(ctx, q, id))
	if err != nil {
		if pg.IsNoRows(err) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateName(ctx context.Context, id, name string, now time.Time) (User, error) {
	const op = "identity.UpdateName"

	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty name"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`
		UPDATE %s SET name = $2, updated_at = $3
		WHERE id = $1
		RETURNING %s
	`, s.usersTable(), userColumns)

	u, err := s.scanUser(s.db.Q(ctx).QueryRow(ctx, q, id, name, now))
	if err != nil {
		if pg.IsNoRows(err) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.UsernameNorm, &u.Name, &u.PasswordHash,
		&u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
