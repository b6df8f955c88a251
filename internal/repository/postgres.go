// Package repository implements the domain repositories on PostgreSQL.
package repository

import (
	"context"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pointshop/db"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// TxRunner runs order transactions on a pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

var _ order.TxRunner = (*TxRunner)(nil)

// NewTxRunner returns a TxRunner that uses the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Rows read through
// Orders().GetForUpdate stay locked until commit, and balance changes are
// conditional updates, so concurrent debits cannot overdraw.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, txRepos{q: tx})
	})
}

type txRepos struct {
	q querier
}

func (t txRepos) Orders() order.Repository   { return &OrderRepository{q: t.q} }
func (t txRepos) Points() points.Repository  { return &LedgerRepository{q: t.q} }
func (t txRepos) Coupons() coupon.Repository { return &CouponRepository{q: t.q} }
