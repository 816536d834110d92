// Package pg carries a pgx connection pool together with context-scoped
// transactions, so stores can share one transaction without threading a
// pgx.Tx through every call site.
//
// Contract:
//   - DB.InTx begins a transaction, injects it into the derived context, and
//     commits iff fn returns nil. Nested InTx calls join the outer transaction.
//   - Store methods obtain their querier via DB.Q(ctx): the ambient
//     transaction when one is present, the pool otherwise.
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a pgx pool. The pool is owned by the caller; DB never closes it.
type DB struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, errors.New("pg: nil pool")
	}
	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool for lifecycle management (ping, close).
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

type txKey struct{}

// TxFrom returns the transaction carried by ctx, or nil.
func TxFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Q returns the ambient transaction when ctx carries one, the pool otherwise.
func (db *DB) Q(ctx context.Context) Querier {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return db.pool
}

// InTx runs fn inside a transaction carried by the derived context.
// A nested call joins the outer transaction instead of opening a new one,
// so the outermost InTx owns commit/rollback.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	done = true
	return nil
}

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const lockNotAvailable = "55P03"

// IsLockTimeout reports whether err is a lock_timeout expiry.
func IsLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}

// SetLocalLockTimeout bounds row-lock acquisition for the current
// transaction. Must be called inside InTx; SET LOCAL outside a
// transaction is a silent no-op.
func SetLocalLockTimeout(ctx context.Context, q Querier, ms int64) error {
	if ms <= 0 {
		return nil
	}
	// SET does not accept bind parameters; ms is server-derived, not user input.
	_, err := q.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms))
	if err != nil {
		return fmt.Errorf("pg: set lock_timeout: %w", err)
	}
	return nil
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
