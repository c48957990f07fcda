package relorm

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolConfig controls the explicit connection pool's sizing and lifecycle.
type PoolConfig struct {
	// MinSize is the number of connections warmed up at pool creation.
	MinSize int
	// MaxSize bounds how many connections may be checked out at once.
	MaxSize int
	// AcquireTimeout bounds how long Acquire waits for a free connection
	// before returning ErrPoolTimeout. Zero means wait forever.
	AcquireTimeout time.Duration
	// IdleTimeout recycles a connection that has sat idle in the pool
	// longer than this. Zero disables idle recycling.
	IdleTimeout time.Duration
	// ValidationOnAcquire pings a connection before handing it out, and
	// transparently replaces it if the ping fails.
	ValidationOnAcquire bool
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	return c
}

// PoolConnection is a checked-out, exclusively-owned database connection.
// Callers must call Release exactly once to return it to the pool.
type PoolConnection struct {
	conn      *sql.Conn
	pool      *Pool
	createdAt time.Time
	lastUsed  time.Time
}

// Conn exposes the underlying *sql.Conn for query execution.
func (pc *PoolConnection) Conn() *sql.Conn {
	return pc.conn
}

// Release returns the connection to the pool for reuse, marking it healthy
// so it goes back on the idle list.
func (pc *PoolConnection) Release() {
	pc.pool.release(pc, true)
}

// ReleaseUnhealthy returns the connection's semaphore slot without recycling
// it: the underlying *sql.Conn is closed instead of going back to the idle
// list. Callers that detect a transport-level failure (broken pipe, reset
// connection, context deadline mid-query) should use this instead of
// Release so a bad connection isn't handed to the next Acquire.
func (pc *PoolConnection) ReleaseUnhealthy() {
	pc.pool.release(pc, false)
}

// Pool is an explicit connection pool layered over database/sql's own
// internal pooling: it hands out *sql.Conn instances one at a time via a
// semaphore-gated acquire/release contract, recycles idle connections past
// IdleTimeout, and optionally validates liveness on acquire.
//
// database/sql already multiplexes connections internally, but it never
// exposes acquire/release or a FIFO wait queue with a deadline; this pool
// adds that explicit contract on top of one underlying *sql.DB.
type Pool struct {
	db     *sql.DB
	cfg    PoolConfig
	sem    *semaphore.Weighted
	mu     sync.Mutex
	idle   *list.List // of *PoolConnection
	closed bool
}

// NewPool creates a pool bound to db and warms it up to cfg.MinSize idle
// connections.
func NewPool(ctx context.Context, db *sql.DB, cfg PoolConfig) (*Pool, error) {
	cfg = cfg.withDefaults()
	p := &Pool{
		db:   db,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxSize)),
		idle: list.New(),
	}
	for i := 0; i < cfg.MinSize; i++ {
		pc, err := p.createConnection(ctx)
		if err != nil {
			return nil, fmt.Errorf("relorm: pool warmup: %w", err)
		}
		p.mu.Lock()
		p.idle.PushBack(pc)
		p.mu.Unlock()
	}
	return p, nil
}

func (p *Pool) createConnection(ctx context.Context) (*PoolConnection, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &PoolConnection{conn: conn, pool: p, createdAt: now, lastUsed: now}, nil
}

// Acquire checks out a connection, waiting up to cfg.AcquireTimeout (if
// nonzero) for one to become available. It returns ErrPoolTimeout if the
// wait deadline elapses and ErrPoolClosed if the pool has been closed.
func (p *Pool) Acquire(ctx context.Context) (*PoolConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() == nil {
			return nil, ErrPoolTimeout
		}
		return nil, ctx.Err()
	}

	pc, err := p.takeIdleOrCreate(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	if p.cfg.ValidationOnAcquire {
		if pingErr := pc.conn.PingContext(ctx); pingErr != nil {
			_ = pc.conn.Close()
			replacement, createErr := p.createConnection(ctx)
			if createErr != nil {
				p.sem.Release(1)
				return nil, fmt.Errorf("relorm: replace dead connection: %w", createErr)
			}
			pc = replacement
		}
	}

	pc.lastUsed = time.Now()
	return pc, nil
}

func (p *Pool) takeIdleOrCreate(ctx context.Context) (*PoolConnection, error) {
	p.mu.Lock()
	for p.idle.Len() > 0 {
		el := p.idle.Front()
		p.idle.Remove(el)
		pc := el.Value.(*PoolConnection)
		p.mu.Unlock()

		if p.cfg.IdleTimeout > 0 && time.Since(pc.lastUsed) > p.cfg.IdleTimeout {
			_ = pc.conn.Close()
			p.mu.Lock()
			continue
		}
		return pc, nil
	}
	p.mu.Unlock()
	return p.createConnection(ctx)
}

// release returns pc to the idle list and signals the semaphore, unless the
// pool is closed or healthy is false, in which case the connection is closed
// outright instead of recycled.
func (p *Pool) release(pc *PoolConnection, healthy bool) {
	p.mu.Lock()
	if p.closed || !healthy {
		p.mu.Unlock()
		_ = pc.conn.Close()
		p.sem.Release(1)
		return
	}
	pc.lastUsed = time.Now()
	p.idle.PushBack(pc)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Close closes every idle connection and marks the pool closed. Connections
// still checked out are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for p.idle.Len() > 0 {
		el := p.idle.Front()
		p.idle.Remove(el)
		pc := el.Value.(*PoolConnection)
		_ = pc.conn.Close()
	}
	return nil
}

// Stats reports the pool's current idle-connection count, for diagnostics.
func (p *Pool) Stats() (idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len()
}
