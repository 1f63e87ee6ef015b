package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTxTimeout = 15 * time.Second

type txContextKey struct{}

// querier is satisfied by both the pool and an open transaction so that the
// same repository methods run inside or outside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Provider owns the connection pool and implements repositories.UnitOfWork.
// The active transaction is carried on the context; only this package reads
// or writes that value.
type Provider struct {
	pool *pgxpool.Pool
}

// NewProvider connects a pool against the given database URL.
func NewProvider(ctx context.Context, databaseURL string, maxConns int32) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Provider{pool: pool}, nil
}

// Close releases the pool.
func (p *Provider) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Ping implements repositories.HealthRepository.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres: provider not initialised")
	}
	return wrapError("ping", p.pool.Ping(ctx))
}

// RunInTx executes fn inside a serializable read-write transaction. A
// serialization failure surfaces as a conflict-kind repository error; the
// caller decides whether to retry.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}, fn)
}

// RunInReadTx executes fn inside a repeatable-read read-only transaction.
func (p *Provider) RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (p *Provider) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) (err error) {
	if p == nil || p.pool == nil {
		return errors.New("postgres: provider not initialised")
	}
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}

	// Joining an already-open transaction keeps nested service calls on a
	// single transactional boundary.
	if _, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	txCtx := ctx
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > defaultTxTimeout {
		txCtx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := p.pool.BeginTx(txCtx, opts)
	if err != nil {
		return wrapError("begin", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(txCtx)
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(txCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rollback: %w (original: %w)", rbErr, err)
			}
			return
		}
		err = wrapError("commit", tx.Commit(txCtx))
	}()

	err = fn(context.WithValue(txCtx, txContextKey{}, tx))
	return err
}

// db returns the transaction bound to ctx when present, the pool otherwise.
func (p *Provider) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}
