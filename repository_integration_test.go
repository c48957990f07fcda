package relorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type repoPost struct {
	ID      int `relorm:"column:id;primary;auto"`
	Title   string
	Views   int
	Version int64 `relorm:"version:integer"`
}

func (repoPost) TableName() string { return "repo_posts" }

func setupRepoDB(t *testing.T) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), ":memory:", SQLiteDialect, WithCaptureSQL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[repoPost](engine)
	require.NoError(t, repo.InitializeTable(context.Background()))
	return engine
}

func TestRepository_CreateFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	post := &repoPost{Title: "hello", Views: 0}
	require.NoError(t, repo.Create(ctx, post))
	require.NotZero(t, post.ID)

	found, err := repo.Find(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", found.Title)

	found.Title = "updated"
	require.NoError(t, repo.Update(ctx, found))

	reloaded, err := repo.Find(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, "updated", reloaded.Title)
	require.Equal(t, int64(1), reloaded.Version)

	require.NoError(t, repo.Delete(ctx, reloaded))
	_, err = repo.Find(ctx, post.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_OptimisticConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	post := &repoPost{Title: "race"}
	require.NoError(t, repo.Create(ctx, post))

	copyA, err := repo.Find(ctx, post.ID)
	require.NoError(t, err)
	copyB, err := repo.Find(ctx, post.ID)
	require.NoError(t, err)

	copyA.Title = "from A"
	require.NoError(t, repo.Update(ctx, copyA))

	copyB.Title = "from B"
	err = repo.Update(ctx, copyB)
	require.ErrorIs(t, err, ErrOptimisticConcurrency)
}

func TestRepository_CaptureSQLPerRepository(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)
	repo.CaptureSQL(true)

	post := &repoPost{Title: "captured"}
	require.NoError(t, repo.Create(ctx, post))

	sqlText, _ := repo.LastExecutedSQL()
	require.NotEmpty(t, sqlText)

	repo.CaptureSQL(false)
	sqlText, args := repo.LastExecutedSQL()
	require.Empty(t, sqlText)
	require.Nil(t, args)
}

func TestRepository_FacadeMethods(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &repoPost{Title: title, Views: 10}))
	}

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	sum, err := repo.Sum(ctx, "Views", nil)
	require.NoError(t, err)
	require.Equal(t, float64(30), sum)

	exists, err := repo.Exists(ctx, Field("Title").Eq("a"))
	require.NoError(t, err)
	require.True(t, exists)

	affected, err := repo.UpdateField(ctx, Field("Title").Eq("a"), "Views", 99)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	remaining, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestRepository_UpdateManyWithExprProjection(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	require.NoError(t, repo.Create(ctx, &repoPost{Title: "a", Views: 10}))
	require.NoError(t, repo.Create(ctx, &repoPost{Title: "b", Views: 20}))

	affected, err := repo.UpdateMany(ctx, Field("Title").Eq("a"), map[string]any{
		"Views": Field("Views").Add(1),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	updated, err := repo.Query().Where(Field("Title").Eq("a")).First(ctx)
	require.NoError(t, err)
	require.Equal(t, 11, updated.Views)

	untouched, err := repo.Query().Where(Field("Title").Eq("b")).First(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, untouched.Views)
}

func TestRepository_FromSQLAndExecuteSQL(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	affected, err := repo.ExecuteSQL(ctx, "INSERT INTO repo_posts (title, views, version) VALUES (?, ?, ?)", "raw", 5, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	posts, err := repo.FromSQL(ctx, "SELECT * FROM repo_posts WHERE views > ?", 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "raw", posts[0].Title)
}

func TestRepository_FromSQLRejectsNonSelect(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	_, err := repo.FromSQL(ctx, "DELETE FROM repo_posts")
	require.Error(t, err)
}

func TestRepository_BeginTransactionCommitsAcrossWrites(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	txRepo, tx, err := repo.BeginTransaction(ctx)
	require.NoError(t, err)

	require.NoError(t, txRepo.Create(ctx, &repoPost{Title: "in tx"}))
	require.NoError(t, tx.Commit())

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRepository_BeginTransactionRejectsNesting(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	txRepo, tx, err := repo.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, _, err = txRepo.BeginTransaction(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRepository_ValidateTableDetailed(t *testing.T) {
	ctx := context.Background()
	engine := setupRepoDB(t)
	repo := NewRepository[repoPost](engine)

	valid, errs, warnings := repo.ValidateTable(ctx)
	require.True(t, valid)
	require.Empty(t, errs)
	require.Empty(t, warnings)

	_, err := engine.DB.ExecContext(ctx, "ALTER TABLE repo_posts ADD COLUMN extra TEXT")
	require.NoError(t, err)

	valid, errs, warnings = repo.ValidateTable(ctx)
	require.True(t, valid)
	require.Empty(t, errs)
	require.NotEmpty(t, warnings)
}
