package relorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type translateFixture struct {
	ID      int    `relorm:"column:id;primary;auto"`
	Name    string `relorm:"column:name"`
	Age     int    `relorm:"column:age"`
	Balance float64
}

func (translateFixture) TableName() string { return "translate_fixtures" }

func translateDesc() *Descriptor {
	return Describe[translateFixture]()
}

func TestTranslate_CompareOperators(t *testing.T) {
	desc := translateDesc()

	tests := []struct {
		name     string
		expr     Expr
		wantSQL  string
		wantArgs []any
	}{
		{"eq", Field("Name").Eq("john"), `"name" = ?`, []any{"john"}},
		{"neq", Field("Name").Neq("john"), `"name" <> ?`, []any{"john"}},
		{"gt", Field("Age").GT(18), `"age" > ?`, []any{18}},
		{"gte", Field("Age").GTE(18), `"age" >= ?`, []any{18}},
		{"lt", Field("Age").LT(18), `"age" < ?`, []any{18}},
		{"lte", Field("Age").LTE(18), `"age" <= ?`, []any{18}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := Translate(desc, SQLiteDialect, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestTranslate_EqNilRewritesToIsNull(t *testing.T) {
	desc := translateDesc()

	sql, args, err := Translate(desc, SQLiteDialect, Field("Name").Eq(nil))
	require.NoError(t, err)
	assert.Equal(t, `"name" IS NULL`, sql)
	assert.Empty(t, args)

	sql, args, err = Translate(desc, SQLiteDialect, Field("Name").Neq(nil))
	require.NoError(t, err)
	assert.Equal(t, `"name" IS NOT NULL`, sql)
	assert.Empty(t, args)
}

func TestTranslate_Between(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Field("Age").Between(18, 65))
	require.NoError(t, err)
	assert.Equal(t, `"age" BETWEEN ? AND ?`, sql)
	assert.Equal(t, []any{18, 65}, args)
}

func TestTranslate_InEmptyIsStaticallyFalse(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Field("Age").In())
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, args)
}

func TestTranslate_InWithValues(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Field("Age").In(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, `"age" IN (?, ?, ?)`, sql)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestTranslate_NullChecks(t *testing.T) {
	desc := translateDesc()

	sql, _, err := Translate(desc, SQLiteDialect, Field("Name").IsNull())
	require.NoError(t, err)
	assert.Equal(t, `"name" IS NULL`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, Field("Name").IsNotNullOrEmpty())
	require.NoError(t, err)
	assert.Equal(t, `("name" IS NOT NULL AND "name" <> '')`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, Field("Name").IsNotNullOrWhitespace())
	require.NoError(t, err)
	assert.Equal(t, `("name" IS NOT NULL AND TRIM("name") <> '')`, sql)
}

func TestTranslate_LogicalCombinators(t *testing.T) {
	desc := translateDesc()

	sql, args, err := Translate(desc, SQLiteDialect, And(Field("Name").Eq("a"), Field("Age").GT(1)))
	require.NoError(t, err)
	assert.Equal(t, `("name" = ?) AND ("age" > ?)`, sql)
	assert.Equal(t, []any{"a", 1}, args)

	sql, _, err = Translate(desc, SQLiteDialect, Or(Field("Name").Eq("a"), Field("Name").Eq("b")))
	require.NoError(t, err)
	assert.Equal(t, `("name" = ?) OR ("name" = ?)`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, Not(Field("Name").Eq("a")))
	require.NoError(t, err)
	assert.Equal(t, `NOT ("name" = ?)`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, And())
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", sql)

	sql, _, err = Translate(desc, SQLiteDialect, Or())
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", sql)
}

func TestTranslate_Arithmetic(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Field("Age").Add(1).Eq(19))
	require.NoError(t, err)
	assert.Equal(t, `("age" + ?) = ?`, sql)
	assert.Equal(t, []any{1, 19}, args)
}

func TestTranslate_StringFunctions(t *testing.T) {
	desc := translateDesc()

	sql, _, err := Translate(desc, SQLiteDialect, Field("Name").Upper().Eq("JOHN"))
	require.NoError(t, err)
	assert.Equal(t, `UPPER("name") = ?`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, Field("Name").Lower().Eq("john"))
	require.NoError(t, err)
	assert.Equal(t, `LOWER("name") = ?`, sql)

	sql, _, err = Translate(desc, MySQLDialect, Field("Name").Length().Eq(4))
	require.NoError(t, err)
	assert.Equal(t, "CHAR_LENGTH(`name`) = ?", sql)
}

func TestTranslate_LikeMatchEscapesWildcards(t *testing.T) {
	desc := translateDesc()

	sql, args, err := Translate(desc, SQLiteDialect, Field("Name").Contains("50%_off"))
	require.NoError(t, err)
	assert.Equal(t, `"name" LIKE ? ESCAPE '\'`, sql)
	require.Len(t, args, 1)
	assert.Equal(t, `%50\%\_off%`, args[0])

	sql, args, err = Translate(desc, SQLiteDialect, Field("Name").StartsWith("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"name" LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, "abc%", args[0])

	sql, args, err = Translate(desc, SQLiteDialect, Field("Name").EndsWith("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "%xyz", args[0])
}

func TestTranslate_Case(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Case(Field("Age").GTE(18), "adult", "minor"))
	require.NoError(t, err)
	assert.Equal(t, `CASE WHEN "age" >= ? THEN ? ELSE ? END`, sql)
	assert.Equal(t, []any{18, "adult", "minor"}, args)
}

func TestTranslate_Aggregates(t *testing.T) {
	desc := translateDesc()

	sql, _, err := Translate(desc, SQLiteDialect, CountAll())
	require.NoError(t, err)
	assert.Equal(t, "COUNT(*)", sql)

	sql, _, err = Translate(desc, SQLiteDialect, Field("Age").SumOf())
	require.NoError(t, err)
	assert.Equal(t, `SUM("age")`, sql)

	sql, _, err = Translate(desc, SQLiteDialect, Field("Age").AvgOf())
	require.NoError(t, err)
	assert.Equal(t, `AVG("age")`, sql)
}

func TestTranslate_UnknownFieldIsUnsupportedExpression(t *testing.T) {
	desc := translateDesc()
	_, _, err := Translate(desc, SQLiteDialect, Field("DoesNotExist").Eq(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)
}

func TestTranslate_RawRejectsDangerousFragments(t *testing.T) {
	desc := translateDesc()
	_, _, err := Translate(desc, SQLiteDialect, Raw("1=1; DROP TABLE users"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)
}

func TestTranslate_RawPassesThroughValidFragment(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, SQLiteDialect, Raw("age > ?", 21))
	require.NoError(t, err)
	assert.Equal(t, "age > ?", sql)
	assert.Equal(t, []any{21}, args)
}

func TestTranslate_PostgresPlaceholdersAreNumbered(t *testing.T) {
	desc := translateDesc()
	sql, args, err := Translate(desc, PostgresDialect, And(Field("Name").Eq("a"), Field("Age").GT(1)))
	require.NoError(t, err)
	assert.Equal(t, `("name" = $1) AND ("age" > $2)`, sql)
	assert.Equal(t, []any{"a", 1}, args)
}
