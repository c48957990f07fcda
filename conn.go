package relorm

import (
	"context"
	"database/sql"
)

// queryable is satisfied by both *sql.Conn and *sql.Tx, letting the query
// builder and mutation planner share one acquire/execute/release path
// regardless of whether they're running inside a Transaction.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// acquire returns a queryable bound either to the given Transaction or to a
// freshly checked-out pool connection, plus a release func the caller must
// invoke exactly once (a no-op when bound to a Transaction, since the
// transaction owns the connection for its whole lifetime).
// acquire returns a queryable plus a release func the caller invokes with
// healthy=false when it detects a transport-level failure on the connection,
// so the pool closes it instead of recycling it. A Transaction-bound acquire
// ignores the flag: the transaction owns its connection until Commit/Rollback.
func acquire(ctx context.Context, engine *Engine, tx *Transaction) (queryable, func(healthy bool), error) {
	if tx != nil {
		return tx.Tx, func(bool) {}, nil
	}
	pc, err := engine.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pc.Conn(), func(healthy bool) {
		if healthy {
			pc.Release()
		} else {
			pc.ReleaseUnhealthy()
		}
	}, nil
}

func (q *QueryBuilder[T]) exec(ctx context.Context, query string, args []any) (*releasingRows, error) {
	q.recordSQL(query, args)

	// Statement caching only applies outside a transaction: a Transaction
	// already pins one physical connection for its whole lifetime, so
	// there's nothing to gain from a cross-connection prepared statement.
	if q.tx == nil && q.engine.Stmts != nil {
		stmt, stmtRelease, err := prepareAndExec(ctx, q.engine, query)
		if err != nil {
			return nil, err
		}
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			stmtRelease()
			return nil, err
		}
		return &releasingRows{Rows: rows, release: stmtRelease}, nil
	}

	conn, release, err := acquire(ctx, q.engine, q.tx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		release(false)
		return nil, err
	}
	return &releasingRows{Rows: rows, release: func() { release(true) }}, nil
}

func (q *QueryBuilder[T]) queryRow(ctx context.Context, query string, args []any) (*sql.Row, error) {
	q.recordSQL(query, args)

	if q.tx == nil && q.engine.Stmts != nil {
		stmt, stmtRelease, err := prepareAndExec(ctx, q.engine, query)
		if err != nil {
			return nil, err
		}
		defer stmtRelease()
		return stmt.QueryRowContext(ctx, args...), nil
	}

	conn, release, err := acquire(ctx, q.engine, q.tx)
	if err != nil {
		return nil, err
	}
	defer release(true)
	return conn.QueryRowContext(ctx, query, args...), nil
}

// prepareAndExec fetches query's prepared statement from engine.Stmts,
// preparing it against engine.DB on a cache miss. Statements are prepared
// off *sql.DB rather than a checked-out *sql.Conn so they remain valid
// regardless of which physical connection database/sql picks to run them.
func prepareAndExec(ctx context.Context, engine *Engine, query string) (*sql.Stmt, func(), error) {
	if stmt, release := engine.Stmts.Get(query); stmt != nil {
		return stmt, release, nil
	}
	stmt, err := engine.DB.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	stmt, release := engine.Stmts.PutAndGet(query, stmt)
	return stmt, release, nil
}

// releasingRows wraps *sql.Rows so the pool connection is released exactly
// once, on Close, regardless of how the caller exits the scan loop.
type releasingRows struct {
	*sql.Rows
	release  func()
	released bool
}

func (r *releasingRows) Close() error {
	if !r.released {
		r.released = true
		r.release()
	}
	return r.Rows.Close()
}
