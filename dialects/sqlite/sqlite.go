// Package sqlite re-exports the root package's SQLite dialect under its own
// import path, so a caller that only needs one driver doesn't have to pull
// the whole relorm package's dialect switch into scope by name.
package sqlite

import (
	"context"

	"github.com/relorm/relorm"
)

// Dialect is relorm.SQLiteDialect, targeting the mattn/go-sqlite3 driver.
var Dialect = relorm.SQLiteDialect

// Open opens an Engine against dsn using the SQLite dialect.
func Open(ctx context.Context, dsn string, opts ...relorm.Option) (*relorm.Engine, error) {
	return relorm.Open(ctx, dsn, Dialect, opts...)
}
