package relorm

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type incAuthor struct {
	ID    int `relorm:"column:id;primary;auto"`
	Name  string
	Books []*incBook
}

func (incAuthor) TableName() string { return "inc_authors" }
func (incAuthor) Configure(c *EntityConfigurator) {
	c.InverseToMany("Books", reflect.TypeOf(incBook{}), "author_id")
}

type incBook struct {
	ID       int `relorm:"column:id;primary;auto"`
	Title    string
	AuthorID int
	Author   *incAuthor
	Tags     []*incTag
}

func (incBook) TableName() string { return "inc_books" }
func (incBook) Configure(c *EntityConfigurator) {
	c.ToOne("Author", reflect.TypeOf(incAuthor{}), "author_id")
	c.ManyToMany("Tags", reflect.TypeOf(incTag{}), "inc_book_tags", "book_id", "tag_id")
}

type incTag struct {
	ID   int `relorm:"column:id;primary;auto"`
	Name string
}

func (incTag) TableName() string { return "inc_tags" }

func setupIncludeDB(t *testing.T) (*Engine, *Repository[incAuthor], *Repository[incBook], *Repository[incTag]) {
	t.Helper()
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", SQLiteDialect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	authors := NewRepository[incAuthor](engine)
	books := NewRepository[incBook](engine)
	tags := NewRepository[incTag](engine)

	require.NoError(t, authors.InitializeTable(ctx))
	require.NoError(t, books.InitializeTable(ctx))
	require.NoError(t, tags.InitializeTable(ctx))
	_, err = books.ExecuteSQL(ctx, "CREATE TABLE IF NOT EXISTS inc_book_tags (book_id INTEGER NOT NULL, tag_id INTEGER NOT NULL)")
	require.NoError(t, err)

	return engine, authors, books, tags
}

func TestInclude_InverseToManyAndToOne(t *testing.T) {
	ctx := context.Background()
	_, authors, books, _ := setupIncludeDB(t)

	author := &incAuthor{Name: "Ada"}
	require.NoError(t, authors.Create(ctx, author))
	require.NoError(t, books.Create(ctx, &incBook{Title: "Notes", AuthorID: author.ID}))
	require.NoError(t, books.Create(ctx, &incBook{Title: "Engine", AuthorID: author.ID}))

	loaded, err := authors.Query().Where(Field("Name").Eq("Ada")).Include("Books").First(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Books, 2)

	book, err := books.Query().Where(Field("Title").Eq("Notes")).Include("Author").First(ctx)
	require.NoError(t, err)
	require.NotNil(t, book.Author)
	require.Equal(t, "Ada", book.Author.Name)
}

func TestInclude_ManyToManyNested(t *testing.T) {
	ctx := context.Background()
	_, authors, books, tags := setupIncludeDB(t)

	author := &incAuthor{Name: "Grace"}
	require.NoError(t, authors.Create(ctx, author))
	book := &incBook{Title: "Compilers", AuthorID: author.ID}
	require.NoError(t, books.Create(ctx, book))

	tagA := &incTag{Name: "cs"}
	tagB := &incTag{Name: "history"}
	require.NoError(t, tags.Create(ctx, tagA))
	require.NoError(t, tags.Create(ctx, tagB))
	_, err := books.ExecuteSQL(ctx, "INSERT INTO inc_book_tags (book_id, tag_id) VALUES (?, ?), (?, ?)",
		book.ID, tagA.ID, book.ID, tagB.ID)
	require.NoError(t, err)

	loaded, err := authors.Query().
		Where(Field("Name").Eq("Grace")).
		Include("Books").ThenInclude("Tags").
		First(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Books, 1)
	require.Len(t, loaded.Books[0].Tags, 2)
}
