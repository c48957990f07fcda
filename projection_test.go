package relorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type projProduct struct {
	ID    int `relorm:"column:id;primary;auto"`
	Name  string
	Price float64
}

func (projProduct) TableName() string { return "proj_products" }

type productSummary struct {
	Name  string  `relorm:"name"`
	Price float64 `relorm:"price"`
}

func TestProjectAll_DecodesIntoArbitraryShape(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[projProduct](engine)
	require.NoError(t, repo.InitializeTable(ctx))
	require.NoError(t, repo.Create(ctx, &projProduct{Name: "widget", Price: 9.99}))
	require.NoError(t, repo.Create(ctx, &projProduct{Name: "gadget", Price: 19.99}))

	summaries, err := ProjectAll[projProduct, productSummary](ctx, repo.Query().OrderBy("Name", false))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "gadget", summaries[0].Name)
	require.InDelta(t, 19.99, summaries[0].Price, 0.0001)
}

func TestProject_ReturnsNotFoundWhenNoRows(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	repo := NewRepository[projProduct](engine)
	require.NoError(t, repo.InitializeTable(ctx))

	var dest productSummary
	err = Project(ctx, repo.Query().Where(Field("Name").Eq("nope")), &dest)
	require.ErrorIs(t, err, ErrNotFound)
}
