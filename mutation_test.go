package relorm

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type mutItem struct {
	SKU   string `relorm:"column:sku;primary"`
	Stock int
}

func (mutItem) TableName() string { return "mut_items" }

func setupMutationDB(t *testing.T) *Repository[mutItem] {
	t.Helper()
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[mutItem](engine)
	require.NoError(t, repo.InitializeTable(ctx))
	return repo
}

func TestMutator_CreateManyInsertsEveryEntity(t *testing.T) {
	ctx := context.Background()
	repo := setupMutationDB(t)

	items := make([]*mutItem, 0, 50)
	for i := 0; i < 50; i++ {
		items = append(items, &mutItem{SKU: "sku-" + strconv.Itoa(i), Stock: i})
	}
	require.NoError(t, repo.CreateMany(ctx, items))

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(50), count)
}

func TestMutator_UpsertInsertsThenUpdatesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := setupMutationDB(t)

	item := &mutItem{SKU: "sku-1", Stock: 10}
	require.NoError(t, repo.Upsert(ctx, item, "Stock"))

	again := &mutItem{SKU: "sku-1", Stock: 99}
	require.NoError(t, repo.Upsert(ctx, again, "Stock"))

	found, err := repo.Find(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, 99, found.Stock)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestMutator_DeleteMissingRowReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := setupMutationDB(t)

	err := repo.Delete(ctx, &mutItem{SKU: "does-not-exist"})
	require.ErrorIs(t, err, ErrNotFound)
}
