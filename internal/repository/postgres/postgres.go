// Package postgres implements the repository interfaces on PostgreSQL via
// pgx. Schema changes are versioned golang-migrate files embedded in the
// binary (see migrate.go); unlike the SQLite adapter nothing is created
// implicitly at startup.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// pool is the subset of *pgxpool.Pool the repositories use.
// pgxmock.PgxPoolIface satisfies it, which is how the unit tests run
// without a database.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// DB owns the connection pool and hands out the repositories built on it.
type DB struct {
	pool  pool
	close func()
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("POSTGRES_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("POSTGRES_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, oops.Code("POSTGRES_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}

	return &DB{pool: p, close: p.Close}, nil
}

// newDB wraps an existing pool. Tests pass a pgxmock pool here.
func newDB(p pool) *DB {
	return &DB{pool: p, close: func() {}}
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// uniqueConstraint returns the name of the violated UNIQUE constraint, or
// "" if err is not a unique violation.
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}
