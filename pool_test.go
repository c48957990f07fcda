package relorm

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg PoolConfig) (*sql.DB, *Pool) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(cfg.withDefaults().MaxSize)
	pool, err := NewPool(context.Background(), db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
		_ = db.Close()
	})
	return db, pool
}

func TestPool_AcquireReleaseRecyclesHealthyConnection(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 2})
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Zero(t, pool.Stats())

	pc.Release()
	require.Equal(t, 1, pool.Stats())
}

func TestPool_ReleaseUnhealthyDoesNotRecycle(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 2})
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	require.NoError(t, err)

	pc.ReleaseUnhealthy()
	require.Zero(t, pool.Stats())

	// The freed semaphore slot must still be usable for a fresh connection.
	pc2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pc2.Release()
}

func TestPool_AcquireAfterCloseFails(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 1})
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_MinSizeWarmsUpIdleConnections(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MinSize: 2, MaxSize: 4})
	require.Equal(t, 2, pool.Stats())
}

func TestPool_MinSizeEqualsMaxSizeLeavesFullConcurrency(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MinSize: 3, MaxSize: 3, AcquireTimeout: time.Second})
	require.Equal(t, 3, pool.Stats())

	ctx := context.Background()
	acquired := make([]*PoolConnection, 0, 3)
	for i := 0; i < 3; i++ {
		pc, err := pool.Acquire(ctx)
		require.NoErrorf(t, err, "acquire %d of MaxSize after warmup must not time out", i+1)
		acquired = append(acquired, pc)
	}

	for _, pc := range acquired {
		pc.Release()
	}
}

func TestPool_AcquireTimeoutWhenExhausted(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 1})
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pc.Release()

	timeoutCtx, cancel := context.WithTimeout(ctx, 1)
	defer cancel()
	_, err = pool.Acquire(timeoutCtx)
	require.Error(t, err)
}
