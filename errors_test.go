package relorm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(ErrRecordNotFound))
	require.True(t, IsNotFound(fmt.Errorf("wrapped: %w", ErrRecordNotFound)))
	require.False(t, IsNotFound(ErrDuplicateKey))
}

func TestQueryError_ErrorAndUnwrap(t *testing.T) {
	underlying := errors.New("constraint failed")
	err := WrapQueryError("INSERT", "INSERT INTO foo (id) VALUES (?)", []any{1}, underlying)

	qe := GetQueryError(err)
	require.NotNil(t, qe)
	require.Equal(t, "INSERT", qe.Operation)
	require.Contains(t, qe.Error(), "INSERT INTO foo")
	require.Contains(t, qe.Error(), "constraint failed")
	require.ErrorIs(t, err, underlying)
}

func TestWrapQueryError_NilPassesThrough(t *testing.T) {
	require.Nil(t, WrapQueryError("SELECT", "SELECT 1", nil, nil))
}

// TestOptimisticConcurrency_Wiring exercises the version-mismatch path that
// Repository.Update hits when another writer has already advanced the row's
// version column out from under a stale in-memory copy.
func TestOptimisticConcurrency_Wiring(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[versionedWidget](engine)
	require.NoError(t, repo.InitializeTable(ctx))

	w := &versionedWidget{Name: "gear"}
	require.NoError(t, repo.Create(ctx, w))

	stale := *w
	w.Name = "cog"
	require.NoError(t, repo.Update(ctx, w))

	stale.Name = "sprocket"
	err = repo.Update(ctx, &stale)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOptimisticConcurrency)
	require.True(t, IsOptimisticConcurrency(err))
}

type versionedWidget struct {
	ID      int `relorm:"column:id;primary;auto"`
	Name    string
	Version int `relorm:"version"`
}

func (versionedWidget) TableName() string { return "versioned_widgets" }

// TestPoolTimeout_Wiring exercises ErrPoolTimeout: with the pool fully checked
// out, Acquire gives up once the pool's own AcquireTimeout elapses.
func TestPoolTimeout_Wiring(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 1, AcquireTimeout: time.Millisecond})
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pc.Release()

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPoolTimeout)
}

// TestPoolClosed_Wiring exercises ErrPoolClosed returned by Acquire once the
// pool has been shut down.
func TestPoolClosed_Wiring(t *testing.T) {
	_, pool := newTestPool(t, PoolConfig{MaxSize: 1})
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

// TestRelationError_UnknownNavigationName exercises WrapRelationError as
// wired into loadIncludes: requesting Include on a navigation name that was
// never registered via Configure must surface a *RelationError wrapping
// ErrUnsupportedExpression, not a bare or generic error.
func TestRelationError_UnknownNavigationName(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	authors := NewRepository[relAuthor](engine)
	require.NoError(t, authors.InitializeTable(ctx))
	require.NoError(t, authors.Create(ctx, &relAuthor{Name: "Lovelace"}))

	_, err = authors.Query().Where(Field("Name").Eq("Lovelace")).Include("NoSuchNavigation").First(ctx)
	require.Error(t, err)

	var relErr *RelationError
	require.ErrorAs(t, err, &relErr)
	require.Equal(t, "NoSuchNavigation", relErr.Relation)
	require.ErrorIs(t, err, ErrUnsupportedExpression)
}

// TestRelationError_UnknownThenInclude covers the same wiring on the nested
// ThenInclude path, which walks loadIncludesOnReflected instead of
// loadIncludes.
func TestRelationError_UnknownThenInclude(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	authors := NewRepository[relAuthor](engine)
	books := NewRepository[relBook](engine)
	require.NoError(t, authors.InitializeTable(ctx))
	require.NoError(t, books.InitializeTable(ctx))

	author := &relAuthor{Name: "Turing"}
	require.NoError(t, authors.Create(ctx, author))
	require.NoError(t, books.Create(ctx, &relBook{Title: "On Computable Numbers", AuthorID: author.ID}))

	_, err = authors.Query().
		Where(Field("Name").Eq("Turing")).
		Include("Books").ThenInclude("NoSuchNavigation").
		First(ctx)
	require.Error(t, err)

	var relErr *RelationError
	require.ErrorAs(t, err, &relErr)
	require.Equal(t, "NoSuchNavigation", relErr.Relation)
	require.ErrorIs(t, err, ErrUnsupportedExpression)
}

type relAuthor struct {
	ID    int `relorm:"column:id;primary;auto"`
	Name  string
	Books []*relBook
}

func (relAuthor) TableName() string { return "rel_authors" }
func (relAuthor) Configure(c *EntityConfigurator) {
	c.InverseToMany("Books", reflect.TypeOf(relBook{}), "author_id")
}

type relBook struct {
	ID       int `relorm:"column:id;primary;auto"`
	Title    string
	AuthorID int
}

func (relBook) TableName() string { return "rel_books" }

// TestUnsupportedExpression_Wiring exercises the translator's default case:
// an Expr node it does not recognize must surface ErrUnsupportedExpression
// rather than panicking or silently producing wrong SQL.
func TestUnsupportedExpression_Wiring(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[relAuthor](engine)
	require.NoError(t, repo.InitializeTable(ctx))

	_, err = repo.Query().Where(unsupportedExpr{}).First(ctx)
	require.Error(t, err)
	require.True(t, IsUnsupportedExpression(err))
}

// unsupportedExpr is an Expr implementation the translator has no case for,
// used solely to exercise the fallback branch of the expression translator.
type unsupportedExpr struct{}

func (unsupportedExpr) isExpr() {}

// TestSchemaMismatch_Wiring exercises ValidateTableDetailed's error path
// when a descriptor's column is missing from the live table.
func TestSchemaMismatch_Wiring(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = engine.DB.ExecContext(ctx, "CREATE TABLE rel_authors (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	repo := NewRepository[relAuthor](engine)
	valid, errs, _ := ValidateTableDetailed(ctx, engine, repo.desc)
	require.False(t, valid)
	require.NotEmpty(t, errs)
}
