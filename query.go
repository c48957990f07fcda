package relorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// orderTerm is one ORDER BY term.
type orderTerm struct {
	field string
	desc  bool
}

// includeSpec is one requested navigation to eager-load, with its own
// nested then-includes for multi-level graphs.
type includeSpec struct {
	name string
	then []*includeSpec
}

// QueryBuilder composes a filtered, ordered, paginated query over entity
// type T and its eager-loaded navigations. Reused across a single logical
// query; not safe for concurrent mutation.
type QueryBuilder[T any] struct {
	engine *Engine
	tx     *Transaction
	desc   *Descriptor

	where      Expr
	order      []orderTerm
	skip, take int
	takeSet    bool
	distinct   bool
	includes   []*includeSpec
	selectCols []string
	fromRaw    string
	ctes       []cteSpec
	capture    *sqlCapture
}

func (q *QueryBuilder[T]) recordSQL(query string, args []any) {
	q.engine.recordSQL(query, args)
	q.capture.record(query, args)
}

// cteSpec is one WITH-clause common table expression attached via WithCTE.
type cteSpec struct {
	name string
	sql  string
}

// From starts a query over T against engine.
func From[T any](engine *Engine) *QueryBuilder[T] {
	return &QueryBuilder[T]{engine: engine, desc: Describe[T]()}
}

// WithTx binds the query to an in-flight transaction instead of the pool.
func (q *QueryBuilder[T]) WithTx(tx *Transaction) *QueryBuilder[T] {
	q.tx = tx
	return q
}

// Where ANDs e onto the existing filter.
func (q *QueryBuilder[T]) Where(e Expr) *QueryBuilder[T] {
	if q.where == nil {
		q.where = e
	} else {
		q.where = And(q.where, e)
	}
	return q
}

// FromRaw replaces the query's FROM target with a raw table expression
// (e.g. a subquery or a view), escape-hatching around the entity's declared
// table name. tableExpr is inserted verbatim; it must not be user input.
func (q *QueryBuilder[T]) FromRaw(tableExpr string) *QueryBuilder[T] {
	q.fromRaw = tableExpr
	return q
}

// WithCTE attaches a named common table expression that is emitted as a
// WITH clause ahead of the root SELECT. sql is inserted verbatim.
func (q *QueryBuilder[T]) WithCTE(name, sql string) *QueryBuilder[T] {
	q.ctes = append(q.ctes, cteSpec{name: name, sql: sql})
	return q
}

// OrderBy adds an ascending (or descending) ORDER BY term.
func (q *QueryBuilder[T]) OrderBy(field string, desc bool) *QueryBuilder[T] {
	q.order = append(q.order, orderTerm{field: field, desc: desc})
	return q
}

// ThenBy adds a secondary ORDER BY term; identical to OrderBy but named for
// readability when chaining multiple sort keys.
func (q *QueryBuilder[T]) ThenBy(field string, desc bool) *QueryBuilder[T] {
	return q.OrderBy(field, desc)
}

// Skip sets the OFFSET.
func (q *QueryBuilder[T]) Skip(n int) *QueryBuilder[T] {
	q.skip = n
	return q
}

// Take sets the LIMIT. Calling Take without any OrderBy is a correctness
// hazard (unstable pagination); the builder flags it via UnorderedTakeWarning
// rather than silently producing nondeterministic results.
func (q *QueryBuilder[T]) Take(n int) *QueryBuilder[T] {
	q.take = n
	q.takeSet = true
	return q
}

// UnorderedTakeWarning reports whether Take was called without any OrderBy,
// a diagnostic callers read off the builder itself.
func (q *QueryBuilder[T]) UnorderedTakeWarning() bool {
	return q.takeSet && len(q.order) == 0
}

// Distinct adds SELECT DISTINCT.
func (q *QueryBuilder[T]) Distinct() *QueryBuilder[T] {
	q.distinct = true
	return q
}

// Select restricts the returned columns by struct field name. Results are
// still mapped onto T; omitted fields are left at their zero value.
func (q *QueryBuilder[T]) Select(fields ...string) *QueryBuilder[T] {
	q.selectCols = fields
	return q
}

// Include requests eager-loading of a navigation by field name.
func (q *QueryBuilder[T]) Include(navigation string) *QueryBuilder[T] {
	spec := &includeSpec{name: navigation}
	q.includes = append(q.includes, spec)
	return q
}

// ThenInclude requests a nested eager-load one level below the most recently
// added Include. Must be called directly after the Include it extends.
func (q *QueryBuilder[T]) ThenInclude(navigation string) *QueryBuilder[T] {
	if len(q.includes) == 0 {
		return q
	}
	parent := q.includes[len(q.includes)-1]
	parent.then = append(parent.then, &includeSpec{name: navigation})
	return q
}

func (q *QueryBuilder[T]) columnNames() []string {
	if len(q.selectCols) == 0 {
		names := make([]string, len(q.desc.Columns))
		for i, c := range q.desc.Columns {
			names[i] = c.Name
		}
		return names
	}
	names := make([]string, 0, len(q.selectCols))
	for _, f := range q.selectCols {
		if c, ok := q.desc.ColumnsByField[f]; ok {
			names = append(names, c.Name)
		}
	}
	return names
}

func (q *QueryBuilder[T]) buildSQL() (string, []any, error) {
	dialect := q.engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	if len(q.ctes) > 0 {
		sb.WriteString("WITH ")
		for i, c := range q.ctes {
			if err := ValidateColumnName(c.name); err != nil {
				return "", nil, fmt.Errorf("%w: CTE name %q: %v", ErrUnsupportedExpression, c.name, err)
			}
			if err := ValidateRawQuery(c.sql); err != nil {
				return "", nil, fmt.Errorf("%w: CTE %q body: %v", ErrUnsupportedExpression, c.name, err)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(dialect.QuoteIdentifier(c.name))
			sb.WriteString(" AS (")
			sb.WriteString(c.sql)
			sb.WriteString(")")
		}
		sb.WriteString(" ")
	}

	sb.WriteString("SELECT ")
	if q.distinct {
		sb.WriteString("DISTINCT ")
	}
	cols := q.columnNames()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dialect.QuoteIdentifier(c)
	}
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(" FROM ")
	if q.fromRaw != "" {
		if err := ValidateRawQuery(q.fromRaw); err != nil {
			return "", nil, fmt.Errorf("%w: FromRaw: %v", ErrUnsupportedExpression, err)
		}
		sb.WriteString(q.fromRaw)
	} else {
		sb.WriteString(dialect.QuoteIdentifier(q.desc.TableName))
	}

	var args []any
	if q.where != nil {
		whereSQL, whereArgs, err := Translate(q.desc, dialect, q.where)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		args = whereArgs
	}

	if len(q.order) > 0 {
		sb.WriteString(" ORDER BY ")
		terms := make([]string, len(q.order))
		for i, t := range q.order {
			col, ok := q.desc.ColumnsByField[t.field]
			if !ok {
				return "", nil, fmt.Errorf("%w: unknown order field %q", ErrUnsupportedExpression, t.field)
			}
			dir := "ASC"
			if t.desc {
				dir = "DESC"
			}
			terms[i] = dialect.QuoteIdentifier(col.Name) + " " + dir
		}
		sb.WriteString(strings.Join(terms, ", "))
	}

	limit, offset := -1, -1
	if q.takeSet {
		limit = q.take
	}
	if q.skip > 0 {
		offset = q.skip
	}
	sb.WriteString(dialect.LimitOffset(limit, offset))

	return sb.String(), args, nil
}

// Get executes the query and returns every matching row, running the
// include planner afterward to stitch in requested navigations.
func (q *QueryBuilder[T]) Get(ctx context.Context) ([]*T, error) {
	sqlText, args, err := q.buildSQL()
	if err != nil {
		return nil, err
	}

	rows, err := q.exec(ctx, sqlText, args)
	if err != nil {
		return nil, WrapQueryError("SELECT", sqlText, args, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols, err := mapColumns(q.desc, colNames)
	if err != nil {
		return nil, err
	}

	var results []*T
	for rows.Next() {
		entity, err := scanRow[T](rows, cols, q.engine.Dialect)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Hand the root query's connection back before the include planner
	// acquires one for each follow-up statement.
	rows.Close()

	if len(q.includes) > 0 && len(results) > 0 {
		if err := loadIncludes(ctx, q.engine, q.tx, q.desc, results, q.includes); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// First returns the first matching row, or ErrNotFound.
func (q *QueryBuilder[T]) First(ctx context.Context) (*T, error) {
	q.Take(1)
	results, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// Count returns the number of matching rows, ignoring Select/Skip/Take.
func (q *QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	dialect := q.engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(dialect.QuoteIdentifier(q.desc.TableName))

	var args []any
	if q.where != nil {
		whereSQL, whereArgs, err := Translate(q.desc, dialect, q.where)
		if err != nil {
			return 0, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		args = whereArgs
	}

	row, err := q.queryRow(ctx, sb.String(), args)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("SELECT", sb.String(), args, err)
	}
	return count, nil
}

// aggregateSQL builds "SELECT <agg(col)> FROM table [WHERE ...]" for the
// query's current filter, sharing the expression translator so the
// aggregate and the WHERE clause bind parameters consistently.
func (q *QueryBuilder[T]) aggregateSQL(agg AggregateExpr) (string, []any, error) {
	dialect := q.engine.Dialect
	t := &translator{desc: q.desc, dialect: dialect}
	aggSQL, err := t.render(agg)
	if err != nil {
		return "", nil, err
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("SELECT ")
	sb.WriteString(aggSQL)
	sb.WriteString(" FROM ")
	sb.WriteString(dialect.QuoteIdentifier(q.desc.TableName))

	if q.where != nil {
		whereSQL, err := t.render(q.where)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
	}
	return sb.String(), t.args, nil
}

// Sum returns the sum of field across matching rows.
func (q *QueryBuilder[T]) Sum(ctx context.Context, field string) (float64, error) {
	return q.scalarAggregate(ctx, Field(field).SumOf())
}

// Avg returns the average of field across matching rows.
func (q *QueryBuilder[T]) Avg(ctx context.Context, field string) (float64, error) {
	return q.scalarAggregate(ctx, Field(field).AvgOf())
}

// Min returns the minimum value of field across matching rows.
func (q *QueryBuilder[T]) Min(ctx context.Context, field string) (float64, error) {
	return q.scalarAggregate(ctx, Field(field).MinOf())
}

// Max returns the maximum value of field across matching rows.
func (q *QueryBuilder[T]) Max(ctx context.Context, field string) (float64, error) {
	return q.scalarAggregate(ctx, Field(field).MaxOf())
}

func (q *QueryBuilder[T]) scalarAggregate(ctx context.Context, agg AggregateExpr) (float64, error) {
	query, args, err := q.aggregateSQL(agg)
	if err != nil {
		return 0, err
	}
	row, err := q.queryRow(ctx, query, args)
	if err != nil {
		return 0, err
	}
	var result sql.NullFloat64
	if err := row.Scan(&result); err != nil {
		return 0, WrapQueryError("SELECT", query, args, err)
	}
	return result.Float64, nil
}

// Exists reports whether any row matches the query's current filter.
func (q *QueryBuilder[T]) Exists(ctx context.Context) (bool, error) {
	count, err := q.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
