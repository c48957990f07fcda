// Package postgres re-exports the root package's Postgres dialect under its
// own import path, wired to the jackc/pgx/v5 stdlib driver.
package postgres

import (
	"context"

	"github.com/relorm/relorm"
)

// Dialect is relorm.PostgresDialect.
var Dialect = relorm.PostgresDialect

// Open opens an Engine against dsn using the Postgres dialect.
func Open(ctx context.Context, dsn string, opts ...relorm.Option) (*relorm.Engine, error) {
	return relorm.Open(ctx, dsn, Dialect, opts...)
}
