// Package postgres implements store.Repository against PostgreSQL using
// sqlx/lib/pq for row operations and pgx for the bulk transaction-ingest
// path, following the teacher's exec-Querier pattern so every method can run
// standalone or inside an existing transaction.
package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx. Methods that need to
// participate in a caller's transaction accept one of these instead of
// reaching for the store's own *sqlx.DB.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Transactor starts a transaction on the underlying connection pool.
type Transactor interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}
