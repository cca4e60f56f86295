// Package postgres stores the delivery reliability ledger in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")
	ErrMigrationFailed  = errors.New("postgres: migration failed")
)

// SQLSTATE codes the ledger reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
)

// PoolOptions tunes the pgx pool. Zero fields fall back to DefaultPoolOptions.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolOptions is sized for one writer touching a single row.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          4,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func (o PoolOptions) apply(cfg *pgxpool.Config) {
	def := DefaultPoolOptions()
	cfg.MaxConns = orDefault(o.MaxConns, def.MaxConns)
	cfg.MinConns = orDefault(o.MinConns, def.MinConns)
	cfg.MaxConnLifetime = orDefault(o.MaxConnLifetime, def.MaxConnLifetime)
	cfg.MaxConnIdleTime = orDefault(o.MaxConnIdleTime, def.MaxConnIdleTime)
	cfg.HealthCheckPeriod = orDefault(o.HealthCheckPeriod, def.HealthCheckPeriod)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// Connection owns the pool. After Close every call fails with
// ErrConnectionClosed instead of panicking inside pgx.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnectionFromURL opens a pool for a postgres:// URL and pings it once.
func NewConnectionFromURL(ctx context.Context, databaseURL string, opts PoolOptions) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// WithTx runs fn in a read-committed transaction, committing on nil.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn); err != nil {
		return fmt.Errorf("postgres: tx: %w", err)
	}
	return nil
}

// Querier is satisfied by *Connection, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.closed.Load() {
		return closedRow{}
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

type closedRow struct{}

func (closedRow) Scan(...any) error { return ErrConnectionClosed }

// ─────────────────────────────────────────────────────────────────────────────
// error classification
// ─────────────────────────────────────────────────────────────────────────────

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsSerializationFailure reports conflicts that succeed when replayed.
func IsSerializationFailure(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// IsConnectionError reports failures before or instead of a server answer.
func IsConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) ||
		errors.Is(err, ErrConnectionClosed) ||
		sqlState(err) == codeAdminShutdown
}
