// Package db provides the shared database access surface used by every
// store in this repository: a DBTX abstraction that both the global pool
// and tenant-scoped connections/transactions satisfy, and a small set of
// cross-cutting queries (customers, tenants) that more than one package
// needs. Domain-specific stores (job, ruleset, shard meta, ...) own their
// own SQL directly against DBTX rather than routing through this package.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx. Stores take
// a DBTX so the same code runs against the pool, a single acquired
// connection (tenant middleware, background workers), or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with the cross-cutting, non-tenant-scoped statements
// used by more than one package (tenant provisioning, background worker
// tenant iteration, customer lookups).
type Queries struct {
	db DBTX
}

// New wraps dbtx in a Queries helper.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}
