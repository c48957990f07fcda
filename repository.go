package relorm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// sqlCapture is a per-repository-handle diagnostic toggle: when enabled it
// remembers the last statement and bind args any QueryBuilder/mutator using
// this handle executed. Nil-receiver-safe so a QueryBuilder or mutator built
// without a Repository (nil capture) records nothing.
type sqlCapture struct {
	mu      sync.Mutex
	enabled bool
	sql     string
	args    []any
}

func (c *sqlCapture) record(query string, args []any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.sql = query
	c.args = args
}

func (c *sqlCapture) setEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.sql = ""
		c.args = nil
	}
}

func (c *sqlCapture) last() (string, []any) {
	if c == nil {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sql, c.args
}

// Repository is the typed facade over one entity type T: every CRUD and
// query operation the engine exposes is reached through it, delegating to
// QueryBuilder[T] for reads and mutator for writes. Repository[T] is threaded
// explicitly through an *Engine rather than resolved from a package-level
// global.
type Repository[T any] struct {
	engine  *Engine
	tx      *Transaction
	desc    *Descriptor
	capture *sqlCapture
}

// NewRepository returns a Repository[T] bound to engine.
func NewRepository[T any](engine *Engine) *Repository[T] {
	return &Repository[T]{engine: engine, desc: Describe[T](), capture: &sqlCapture{}}
}

// WithTx returns a copy of r bound to an in-flight transaction.
func (r *Repository[T]) WithTx(tx *Transaction) *Repository[T] {
	return &Repository[T]{engine: r.engine, tx: tx, desc: r.desc, capture: r.capture}
}

// Descriptor exposes the repository's entity metadata.
func (r *Repository[T]) Descriptor() *Descriptor {
	return r.desc
}

// CaptureSQL toggles per-repository statement capture. Disabling it
// immediately clears any previously captured statement.
func (r *Repository[T]) CaptureSQL(enabled bool) {
	r.capture.setEnabled(enabled)
}

// LastExecutedSQL returns the last statement and bind args captured on this
// repository handle, or ("", nil) if CaptureSQL(true) was never called.
func (r *Repository[T]) LastExecutedSQL() (string, []any) {
	return r.capture.last()
}

func (r *Repository[T]) recordSQL(query string, args []any) {
	r.engine.recordSQL(query, args)
	r.capture.record(query, args)
}

// Query starts a filtered read over T.
func (r *Repository[T]) Query() *QueryBuilder[T] {
	q := From[T](r.engine)
	q.tx = r.tx
	q.capture = r.capture
	return q
}

// Find returns the entity with the given primary key, or ErrNotFound.
func (r *Repository[T]) Find(ctx context.Context, pk any) (*T, error) {
	return r.Query().Where(Field(r.pkFieldName()).Eq(pk)).First(ctx)
}

func (r *Repository[T]) pkFieldName() string {
	return r.desc.PrimaryKey.FieldName
}

// All returns every row of T, equivalent to Query().Get(ctx).
func (r *Repository[T]) All(ctx context.Context) ([]*T, error) {
	return r.Query().Get(ctx)
}

// Create inserts entity, populating its generated primary key.
func (r *Repository[T]) Create(ctx context.Context, entity *T) error {
	if hook, ok := any(entity).(interface{ BeforeCreate(context.Context) error }); ok {
		if err := hook.BeforeCreate(ctx); err != nil {
			return err
		}
	}
	if err := newMutatorWithCapture(r.engine, r.tx, r.desc, r.capture).Insert(ctx, entity); err != nil {
		return err
	}
	if hook, ok := any(entity).(interface{ AfterCreate(context.Context) error }); ok {
		return hook.AfterCreate(ctx)
	}
	return nil
}

// CreateMany inserts entities in dialect-chunked batches.
func (r *Repository[T]) CreateMany(ctx context.Context, entities []*T) error {
	boxed := make([]any, len(entities))
	for i, e := range entities {
		boxed[i] = e
	}
	return newMutatorWithCapture(r.engine, r.tx, r.desc, r.capture).InsertMany(ctx, boxed)
}

// Update updates entity by primary key, applying the optimistic-concurrency
// version guard when the entity type declares a version column.
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	if hook, ok := any(entity).(interface{ BeforeUpdate(context.Context) error }); ok {
		if err := hook.BeforeUpdate(ctx); err != nil {
			return err
		}
	}
	if err := newMutatorWithCapture(r.engine, r.tx, r.desc, r.capture).Update(ctx, entity); err != nil {
		return err
	}
	if hook, ok := any(entity).(interface{ AfterUpdate(context.Context) error }); ok {
		return hook.AfterUpdate(ctx)
	}
	return nil
}

// Delete deletes entity by its primary key.
func (r *Repository[T]) Delete(ctx context.Context, entity *T) error {
	return newMutatorWithCapture(r.engine, r.tx, r.desc, r.capture).Delete(ctx, entity)
}

// Upsert inserts entity or updates updateFields (by struct field name) on a
// primary-key conflict, using the dialect's native upsert syntax.
func (r *Repository[T]) Upsert(ctx context.Context, entity *T, updateFields ...string) error {
	return newMutatorWithCapture(r.engine, r.tx, r.desc, r.capture).Upsert(ctx, entity, updateFields...)
}

// DeleteMany deletes every row matching filter.
func (r *Repository[T]) DeleteMany(ctx context.Context, filter Expr) (int64, error) {
	dialect := r.engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("DELETE FROM ")
	sb.WriteString(dialect.QuoteIdentifier(r.desc.TableName))

	var args []any
	if filter != nil {
		whereSQL, whereArgs, err := Translate(r.desc, dialect, filter)
		if err != nil {
			return 0, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		args = whereArgs
	}

	query := sb.String()
	conn, release, err := acquire(ctx, r.engine, r.tx)
	if err != nil {
		return 0, err
	}
	r.recordSQL(query, args)

	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		release(false)
		return 0, WrapQueryError("DELETE", query, args, err)
	}
	release(true)
	return result.RowsAffected()
}

// UpdateMany applies values (by struct field name) to every row matching
// filter in a single statement. A value may be a plain literal or an Expr
// whose right-hand side references the row's own current column values
// (e.g. Field("Views").Add(1)), letting batch_update express
// read-then-write projections without a round trip per row.
func (r *Repository[T]) UpdateMany(ctx context.Context, filter Expr, values map[string]any) (int64, error) {
	dialect := r.engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("UPDATE ")
	sb.WriteString(dialect.QuoteIdentifier(r.desc.TableName))
	sb.WriteString(" SET ")

	var args []any
	first := true
	for field, v := range values {
		col, ok := r.desc.ColumnsByField[field]
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(dialect.QuoteIdentifier(col.Name))
		sb.WriteString(" = ")

		if expr, ok := v.(Expr); ok {
			exprSQL, exprArgs, err := translateWithOffset(r.desc, dialect, expr, len(args))
			if err != nil {
				return 0, err
			}
			sb.WriteString(exprSQL)
			args = append(args, exprArgs...)
			continue
		}

		sb.WriteString(dialect.Placeholder(len(args) + 1))
		args = append(args, v)
	}

	if filter != nil {
		whereSQL, whereArgs, err := translateWithOffset(r.desc, dialect, filter, len(args))
		if err != nil {
			return 0, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	query := sb.String()
	conn, release, err := acquire(ctx, r.engine, r.tx)
	if err != nil {
		return 0, err
	}
	r.recordSQL(query, args)

	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		release(false)
		return 0, WrapQueryError("UPDATE", query, args, err)
	}
	release(true)
	return result.RowsAffected()
}

// DeleteByID deletes the row with the given primary key.
func (r *Repository[T]) DeleteByID(ctx context.Context, pk any) (int64, error) {
	return r.DeleteMany(ctx, Field(r.pkFieldName()).Eq(pk))
}

// DeleteAll deletes every row of T.
func (r *Repository[T]) DeleteAll(ctx context.Context) (int64, error) {
	return r.DeleteMany(ctx, nil)
}

// UpdateField applies a single field/value assignment to every row matching
// filter, a narrower and more self-documenting form of UpdateMany for the
// common single-column batch update.
func (r *Repository[T]) UpdateField(ctx context.Context, filter Expr, field string, value any) (int64, error) {
	return r.UpdateMany(ctx, filter, map[string]any{field: value})
}

// ExistsByID reports whether a row with the given primary key exists.
func (r *Repository[T]) ExistsByID(ctx context.Context, pk any) (bool, error) {
	return r.Query().Where(Field(r.pkFieldName()).Eq(pk)).Exists(ctx)
}

// Exists reports whether any row matches filter.
func (r *Repository[T]) Exists(ctx context.Context, filter Expr) (bool, error) {
	return r.Query().Where(filter).Exists(ctx)
}

// Count returns the number of rows, optionally narrowed by filter.
func (r *Repository[T]) Count(ctx context.Context, filter Expr) (int64, error) {
	q := r.Query()
	if filter != nil {
		q = q.Where(filter)
	}
	return q.Count(ctx)
}

// Sum returns the sum of field, optionally narrowed by filter.
func (r *Repository[T]) Sum(ctx context.Context, field string, filter Expr) (float64, error) {
	q := r.Query()
	if filter != nil {
		q = q.Where(filter)
	}
	return q.Sum(ctx, field)
}

// Avg returns the average of field, optionally narrowed by filter.
func (r *Repository[T]) Avg(ctx context.Context, field string, filter Expr) (float64, error) {
	q := r.Query()
	if filter != nil {
		q = q.Where(filter)
	}
	return q.Avg(ctx, field)
}

// Min returns the minimum value of field, optionally narrowed by filter.
func (r *Repository[T]) Min(ctx context.Context, field string, filter Expr) (float64, error) {
	q := r.Query()
	if filter != nil {
		q = q.Where(filter)
	}
	return q.Min(ctx, field)
}

// Max returns the maximum value of field, optionally narrowed by filter.
func (r *Repository[T]) Max(ctx context.Context, field string, filter Expr) (float64, error) {
	q := r.Query()
	if filter != nil {
		q = q.Where(filter)
	}
	return q.Max(ctx, field)
}

// FromSQL runs a raw SELECT and maps its result rows onto T, reusing the same
// column-to-field resolution as Query().Get. query must be a read-only
// statement; ValidateRawQuery's dangerous-keyword/comment checks still apply.
func (r *Repository[T]) FromSQL(ctx context.Context, query string, args ...any) ([]*T, error) {
	if err := ValidateRawQuery(query); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
	}
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("%w: FromSQL requires a SELECT or WITH statement", ErrUnsupportedExpression)
	}

	r.recordSQL(query, args)
	conn, release, err := acquire(ctx, r.engine, r.tx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		release(false)
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer release(true)
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols, err := mapColumns(r.desc, colNames)
	if err != nil {
		return nil, err
	}

	var results []*T
	for rows.Next() {
		entity, err := scanRow[T](rows, cols, r.engine.Dialect)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}

// ExecuteSQL runs a raw, non-SELECT statement (INSERT, UPDATE, DELETE, DDL)
// and returns the number of rows it affected. A query holding more than one
// statement or an SQL comment is rejected with ErrUnsupportedExpression.
func (r *Repository[T]) ExecuteSQL(ctx context.Context, query string, args ...any) (int64, error) {
	if strings.Contains(query, ";") || strings.Contains(query, "--") || strings.Contains(query, "/*") {
		return 0, fmt.Errorf("%w: ExecuteSQL accepts a single statement without SQL comments", ErrUnsupportedExpression)
	}
	r.recordSQL(query, args)
	conn, release, err := acquire(ctx, r.engine, r.tx)
	if err != nil {
		return 0, err
	}
	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		release(false)
		return 0, WrapQueryError("EXEC", query, args, err)
	}
	release(true)
	return result.RowsAffected()
}

// BeginTransaction starts a new transaction and returns a repository handle
// bound to it. Calling BeginTransaction on a repository that is already
// bound to a transaction is rejected with ErrInvalidState; nest operations
// within the existing transaction's handle instead of starting a new one.
func (r *Repository[T]) BeginTransaction(ctx context.Context) (*Repository[T], *Transaction, error) {
	if r.tx != nil {
		return nil, nil, ErrInvalidState
	}
	tx, err := r.engine.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	return r.WithTx(tx), tx, nil
}

// InitializeTable issues CREATE TABLE IF NOT EXISTS plus declared indexes
// for T.
func (r *Repository[T]) InitializeTable(ctx context.Context) error {
	return InitializeTable(ctx, r.engine, r.desc)
}

// ValidateTable compares T's descriptor against the live database schema.
func (r *Repository[T]) ValidateTable(ctx context.Context) (valid bool, errs []string, warnings []string) {
	return ValidateTableDetailed(ctx, r.engine, r.desc)
}

// CreateIndexes issues every index declared on T.
func (r *Repository[T]) CreateIndexes(ctx context.Context) error {
	return CreateIndexes(ctx, r.engine, r.desc)
}

// GetIndexes returns T's declared indexes.
func (r *Repository[T]) GetIndexes() []*Index {
	return r.desc.Indexes
}

// DropIndex drops a named index.
func (r *Repository[T]) DropIndex(ctx context.Context, name string) error {
	return DropIndex(ctx, r.engine, name)
}

// translateWithOffset translates e starting bind numbering at offset+1, for
// statements that already consumed `offset` placeholders (e.g. a SET clause).
func translateWithOffset(desc *Descriptor, dialect *Dialect, e Expr, offset int) (string, []any, error) {
	t := &translator{desc: desc, dialect: dialect, args: make([]any, offset)}
	sql, err := t.render(e)
	if err != nil {
		return "", nil, err
	}
	return sql, t.args[offset:], nil
}
