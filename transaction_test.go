package relorm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type txAccount struct {
	ID      int `relorm:"column:id;primary;auto"`
	Balance int
}

func (txAccount) TableName() string { return "tx_accounts" }

func setupTxDB(t *testing.T) (*Engine, *Repository[txAccount]) {
	t.Helper()
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[txAccount](engine)
	require.NoError(t, repo.InitializeTable(ctx))
	return engine, repo
}

func TestWithinTransaction_CommitsOnNilReturn(t *testing.T) {
	ctx := context.Background()
	engine, repo := setupTxDB(t)

	err := engine.WithinTransaction(ctx, func(tx *Transaction) error {
		return repo.WithTx(tx).Create(ctx, &txAccount{Balance: 100})
	})
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestWithinTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	engine, repo := setupTxDB(t)

	sentinel := errors.New("boom")
	err := engine.WithinTransaction(ctx, func(tx *Transaction) error {
		if createErr := repo.WithTx(tx).Create(ctx, &txAccount{Balance: 100}); createErr != nil {
			return createErr
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestWithinTransaction_RollsBackAndRepanicsOnPanic(t *testing.T) {
	ctx := context.Background()
	engine, repo := setupTxDB(t)

	defer func() {
		r := recover()
		require.NotNil(t, r)

		count, err := repo.Count(ctx, nil)
		require.NoError(t, err)
		require.Zero(t, count)
	}()

	_ = engine.WithinTransaction(ctx, func(tx *Transaction) error {
		_ = repo.WithTx(tx).Create(ctx, &txAccount{Balance: 100})
		panic("unexpected failure mid-transaction")
	})
}

func TestEngine_BeginAllowsExplicitCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	engine, repo := setupTxDB(t)

	tx, err := engine.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.WithTx(tx).Create(ctx, &txAccount{Balance: 5}))
	require.NoError(t, tx.Commit())

	// Commit after commit is rejected rather than silently succeeding.
	require.ErrorIs(t, tx.Commit(), ErrInvalidState)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
