package relorm

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Logger is the minimal Printf-style logging surface an Engine carries in its
// Logger field for callers; no engine code path writes to it. A *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

// WithPool overrides the default pool configuration.
func WithPool(cfg PoolConfig) Option {
	return func(e *Engine) { e.poolConfig = cfg }
}

// WithStmtCache enables statement caching with the given capacity.
func WithStmtCache(capacity int) Option {
	return func(e *Engine) { e.Stmts = NewStmtCache(capacity) }
}

// WithCaptureSQL turns on engine-wide last-executed-SQL capture, read back via
// Engine.LastExecutedSQL. Per-repository capture is Repository.CaptureSQL.
func WithCaptureSQL() Option {
	return func(e *Engine) { e.captureSQL = true }
}

// Engine is the root handle for the engine: one per logical database,
// threaded explicitly into every Repository[T] rather than stashed in a
// package-level singleton.
type Engine struct {
	DB         *sql.DB
	Dialect    *Dialect
	Pool       *Pool
	Logger     Logger
	Stmts      *StmtCache
	captureSQL bool
	poolConfig PoolConfig

	lastSQL  string
	lastArgs []any
}

// Open opens a *sql.DB against dsn using dialect.DriverName, wraps it in an
// explicit connection pool, and returns a ready-to-use Engine.
func Open(ctx context.Context, dsn string, dialect *Dialect, opts ...Option) (*Engine, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("relorm: open %s: %w", dialect.Name, err)
	}

	e := &Engine{
		DB:      db,
		Dialect: dialect,
		Logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}

	// database/sql keeps its own internal connection pool underneath the
	// explicit Pool layered on top; cap it at the same ceiling so the two
	// layers agree on how many physical connections may exist at once.
	cfg := e.poolConfig.withDefaults()
	db.SetMaxOpenConns(cfg.MaxSize)
	db.SetMaxIdleConns(cfg.MaxSize)
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}

	pool, err := NewPool(ctx, db, e.poolConfig)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.Pool = pool

	return e, nil
}

// Close closes the pool and the underlying *sql.DB.
func (e *Engine) Close() error {
	if e.Stmts != nil {
		_ = e.Stmts.Close()
	}
	if err := e.Pool.Close(); err != nil {
		return err
	}
	return e.DB.Close()
}

// recordSQL stashes the last executed statement when capture_sql is enabled,
// for Engine.LastExecutedSQL diagnostics.
func (e *Engine) recordSQL(query string, args []any) {
	if !e.captureSQL {
		return
	}
	e.lastSQL = query
	e.lastArgs = args
}

// LastExecutedSQL returns the last captured statement and args, or ("", nil)
// if capture_sql was not enabled via WithCaptureSQL.
func (e *Engine) LastExecutedSQL() (string, []any) {
	return e.lastSQL, e.lastArgs
}
