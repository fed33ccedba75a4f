package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikolayk812/cartcore/internal/port"
)

// dbConn is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// the same queries run pooled or inside a transaction.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type store struct {
	db   dbConn
	pool *pgxpool.Pool
}

// NewStore returns a Postgres-backed port.Store.
func NewStore(pool *pgxpool.Pool) (port.Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	return &store{
		db:   pool,
		pool: pool,
	}, nil
}

func newStoreWithTx(tx pgx.Tx) *store {
	return &store{
		db:   tx,
		pool: nil, // use provided transaction instead
	}
}

func (s *store) InTx(ctx context.Context, fn func(st port.Store) error) error {
	return withTx(ctx, s.pool, s, fn)
}
