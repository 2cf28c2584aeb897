// Package db defines the shared database pool abstraction used by the
// Postgres store. The interface is the subset of pgxpool.Pool the engine
// touches, narrow enough for pgxmock to satisfy in tests.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the database access contract required by the store layer.
// *pgxpool.Pool and pgxmock.PgxPoolIface both implement it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}
