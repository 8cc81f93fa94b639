// Package pgstore carries the transaction plumbing shared by the gateway,
// memory, and recall stores: a pgx pool wrapper whose queries run against the
// ambient transaction when one is present in the context.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the query surface shared by pgxpool.Pool, pgx.Tx, and the
// pgxmock pool used in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// DB wraps a pool. Store types embed it.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// WithTx runs fn inside a transaction. Nested calls join the transaction
// already carried by the context.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if q := querierFromContext(ctx); q != nil {
		return fn(ctx)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{}, Querier(tx))

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// Conn returns the ambient transaction if present, the pool otherwise.
func (d *DB) Conn(ctx context.Context) Querier {
	if q := querierFromContext(ctx); q != nil {
		return q
	}
	return d.pool
}

func querierFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(txKey{}).(Querier)
	return q
}

// WithQuerier pins all queries under ctx to q. Tests use it to route store
// calls through a pgxmock pool.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, txKey{}, q)
}

// UniqueViolation reports whether err is a Postgres 23505 constraint error.
func UniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
