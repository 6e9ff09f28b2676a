package database

import (
	"context"
	"database/sql"
)

// Tx is the transaction-scoped handle passed explicitly through the
// purchase workflow.  *sql.Tx satisfies it.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// Transactor opens transactions.  Each call acquires its own
// connection from the pool; the caller must Commit or Rollback.
type Transactor interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// SQLTransactor opens READ COMMITTED transactions on a *sql.DB.
// Competing buyers are serialised by SELECT ... FOR UPDATE row locks.
type SQLTransactor struct {
	db *sql.DB
}

// NewTransactor wraps db.
func NewTransactor(db *sql.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

// BeginTx implements Transactor.
func (t *SQLTransactor) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return tx, nil
}
