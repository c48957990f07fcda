// Package mysql re-exports the root package's MySQL dialect under its own
// import path, wired to the go-sql-driver/mysql driver.
package mysql

import (
	"context"

	"github.com/relorm/relorm"
)

// Dialect is relorm.MySQLDialect.
var Dialect = relorm.MySQLDialect

// Open opens an Engine against dsn using the MySQL dialect.
func Open(ctx context.Context, dsn string, opts ...relorm.Option) (*relorm.Engine, error) {
	return relorm.Open(ctx, dsn, Dialect, opts...)
}
