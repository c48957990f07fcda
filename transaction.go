package relorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRollbackFailed is returned when transaction rollback fails.
var ErrRollbackFailed = errors.New("relorm: rollback failed")

// Transaction is a single borrowed pool connection pinned to an in-flight
// database transaction. Nested transactions on the same Transaction handle
// are rejected with ErrInvalidState; start a new one from the Engine instead.
type Transaction struct {
	Tx   *sql.Tx
	ctx  context.Context
	conn *PoolConnection
	done bool
}

// Commit commits the transaction and releases the underlying connection.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrInvalidState
	}
	t.done = true
	defer t.conn.Release()
	return t.Tx.Commit()
}

// Rollback rolls back the transaction and releases the underlying connection.
// Calling Rollback after Commit or a prior Rollback is a no-op.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Release()
	return t.Tx.Rollback()
}

// Begin acquires a pool connection and starts a transaction on it, returning
// a handle the caller must Commit or Rollback explicitly. Prefer
// WithinTransaction for the common case; Begin exists for callers (such as a
// repository's BeginTransaction facade) that need the handle across several
// separate calls rather than inside one callback.
func (e *Engine) Begin(ctx context.Context) (*Transaction, error) {
	pc, err := e.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sqlTx, err := pc.Conn().BeginTx(ctx, nil)
	if err != nil {
		pc.Release()
		return nil, err
	}
	return &Transaction{Tx: sqlTx, ctx: ctx, conn: pc}, nil
}

// WithinTransaction runs fn against a transaction acquired from the engine's
// pool. It commits on a nil return, rolls back (wrapping any rollback error
// alongside fn's original error) on a non-nil return, and rolls back then
// re-panics if fn panics.
func (e *Engine) WithinTransaction(ctx context.Context, fn func(tx *Transaction) error) (err error) {
	t, beginErr := e.Begin(ctx)
	if beginErr != nil {
		return beginErr
	}

	defer func() {
		if p := recover(); p != nil {
			_ = t.Rollback()
			panic(p)
		} else if err != nil {
			if t.done {
				return
			}
			t.done = true
			defer t.conn.Release()
			if rbErr := t.Tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		} else if !t.done {
			err = t.Commit()
		}
	}()

	err = fn(t)
	return err
}
