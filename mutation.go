package relorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"
)

// mutator plans and executes INSERT/UPDATE/DELETE/UPSERT statements for one
// entity Descriptor, using an Engine's dialect for placeholder/upsert syntax
// and chunking batches to stay under Dialect.MaxBindParams.
type mutator struct {
	engine  *Engine
	tx      *Transaction
	desc    *Descriptor
	capture *sqlCapture
}

func newMutator(engine *Engine, tx *Transaction, desc *Descriptor) *mutator {
	return &mutator{engine: engine, tx: tx, desc: desc}
}

func newMutatorWithCapture(engine *Engine, tx *Transaction, desc *Descriptor, capture *sqlCapture) *mutator {
	return &mutator{engine: engine, tx: tx, desc: desc, capture: capture}
}

func (m *mutator) recordSQL(query string, args []any) {
	m.engine.recordSQL(query, args)
	m.capture.record(query, args)
}

func (m *mutator) conn(ctx context.Context) (queryable, func(healthy bool), error) {
	return acquire(ctx, m.engine, m.tx)
}

// exec runs query through the statement cache when one is configured and no
// transaction pins the connection, else falls back to a plain pool acquire.
// On a pool-backed connection, a failing ExecContext releases the connection
// as unhealthy instead of recycling it.
func (m *mutator) exec(ctx context.Context, query string, args []any) (sql.Result, func(healthy bool), error) {
	if m.tx == nil && m.engine.Stmts != nil {
		stmt, release, err := prepareAndExec(ctx, m.engine, query)
		if err != nil {
			return nil, nil, err
		}
		result, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			release()
			return nil, nil, err
		}
		return result, func(bool) { release() }, nil
	}
	conn, release, err := m.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		release(false)
		return nil, nil, err
	}
	return result, release, nil
}

func (m *mutator) queryRow(ctx context.Context, query string, args []any) (*sql.Row, func(healthy bool), error) {
	if m.tx == nil && m.engine.Stmts != nil {
		stmt, release, err := prepareAndExec(ctx, m.engine, query)
		if err != nil {
			return nil, nil, err
		}
		return stmt.QueryRowContext(ctx, args...), func(bool) { release() }, nil
	}
	conn, release, err := m.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn.QueryRowContext(ctx, query, args...), release, nil
}

func insertableColumns(desc *Descriptor) []*Column {
	cols := make([]*Column, 0, len(desc.Columns))
	for _, c := range desc.Columns {
		if c.IsPrimaryKey && c.AutoIncrement {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Insert inserts entity, populating its auto-increment primary key (via
// RETURNING where the dialect supports it, else via LastInsertId).
func (m *mutator) Insert(ctx context.Context, entity any) error {
	val := reflect.ValueOf(entity).Elem()
	dialect := m.engine.Dialect
	cols := insertableColumns(m.desc)

	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = val.FieldByIndex(c.FieldIndex).Interface()
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.TableName))
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.QuoteIdentifier(c.Name))
	}
	sb.WriteString(") VALUES (")
	writePlaceholders(sb, len(cols), dialect.Placeholder)
	sb.WriteString(")")

	needsGeneratedPK := m.desc.PrimaryKey.AutoIncrement
	if needsGeneratedPK && dialect.SupportsReturning {
		sb.WriteString(" RETURNING ")
		sb.WriteString(dialect.QuoteIdentifier(m.desc.PrimaryKey.Name))
	}
	query := sb.String()

	m.recordSQL(query, values)
	pkField := val.FieldByIndex(m.desc.PrimaryKey.FieldIndex)

	if needsGeneratedPK && dialect.SupportsReturning {
		row, release, err := m.queryRow(ctx, query, values)
		if err != nil {
			return err
		}
		if err := row.Scan(pkField.Addr().Interface()); err != nil {
			release(false)
			return WrapQueryError("INSERT", query, values, err)
		}
		release(true)
		return nil
	}

	result, release, err := m.exec(ctx, query, values)
	if err != nil {
		return WrapQueryError("INSERT", query, values, err)
	}
	defer release(true)
	if needsGeneratedPK && dialect.LastInsertIDFromResult {
		id, err := result.LastInsertId()
		if err != nil {
			return WrapQueryError("INSERT", query, values, err)
		}
		if err := setScalar(pkField, id); err != nil {
			return err
		}
	}
	return nil
}

// InsertMany inserts entities in dialect-chunked batches so that
// columns*rows never exceeds Dialect.MaxBindParams in one statement.
func (m *mutator) InsertMany(ctx context.Context, entities []any) error {
	if len(entities) == 0 {
		return nil
	}
	cols := insertableColumns(m.desc)
	dialect := m.engine.Dialect
	chunkSize := dialect.MaxBindParams / max(1, len(cols))
	if chunkSize < 1 {
		chunkSize = 1
	}

	for start := 0; start < len(entities); start += chunkSize {
		end := min(start+chunkSize, len(entities))
		if err := m.insertChunk(ctx, entities[start:end], cols); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutator) insertChunk(ctx context.Context, entities []any, cols []*Column) error {
	dialect := m.engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("INSERT INTO ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.TableName))
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.QuoteIdentifier(c.Name))
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(entities)*len(cols))
	bound := 0
	for rowIdx, e := range entities {
		if rowIdx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		val := reflect.ValueOf(e).Elem()
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			bound++
			sb.WriteString(dialect.Placeholder(bound))
			args = append(args, val.FieldByIndex(c.FieldIndex).Interface())
		}
		sb.WriteString(")")
	}

	query := sb.String()
	conn, release, err := m.conn(ctx)
	if err != nil {
		return err
	}
	m.recordSQL(query, args)

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		release(false)
		return WrapQueryError("INSERT", query, args, err)
	}
	release(true)
	return nil
}

// Update updates entity by primary key. When the entity carries a version
// column, the UPDATE is additionally guarded by WHERE version = <old value>
// and SETs the column to its next value; zero rows affected in that case
// means ErrOptimisticConcurrency, while zero rows affected with no version
// column means ErrNotFound.
func (m *mutator) Update(ctx context.Context, entity any) error {
	dialect := m.engine.Dialect
	val := reflect.ValueOf(entity).Elem()

	var sets []string
	var args []any
	bound := 0
	nextBind := func(v any) string {
		bound++
		args = append(args, v)
		return dialect.Placeholder(bound)
	}

	var oldVersion any
	for _, c := range m.desc.Columns {
		if c.IsPrimaryKey {
			continue
		}
		if c.Version != VersionNone {
			oldVersion = val.FieldByIndex(c.FieldIndex).Interface()
			newVersion := nextVersionValue(c, oldVersion)
			val.FieldByIndex(c.FieldIndex).Set(reflect.ValueOf(newVersion))
			sets = append(sets, fmt.Sprintf("%s = %s", dialect.QuoteIdentifier(c.Name), nextBind(newVersion)))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", dialect.QuoteIdentifier(c.Name), nextBind(val.FieldByIndex(c.FieldIndex).Interface())))
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("UPDATE ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.TableName))
	sb.WriteString(" SET ")
	for i, s := range sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(s)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.PrimaryKey.Name))
	sb.WriteString(" = ")
	sb.WriteString(nextBind(val.FieldByIndex(m.desc.PrimaryKey.FieldIndex).Interface()))

	if m.desc.VersionColumn != nil {
		sb.WriteString(" AND ")
		sb.WriteString(dialect.QuoteIdentifier(m.desc.VersionColumn.Name))
		sb.WriteString(" = ")
		sb.WriteString(nextBind(oldVersion))
	}

	query := sb.String()
	m.recordSQL(query, args)

	result, release, err := m.exec(ctx, query, args)
	if err != nil {
		return WrapQueryError("UPDATE", query, args, err)
	}
	defer release(true)
	affected, err := result.RowsAffected()
	if err != nil {
		return WrapQueryError("UPDATE", query, args, err)
	}
	if affected == 0 {
		if m.desc.VersionColumn != nil {
			return ErrOptimisticConcurrency
		}
		return ErrNotFound
	}
	return nil
}

func nextVersionValue(col *Column, old any) any {
	if col.Version == VersionTimestamp {
		return time.Now().UTC()
	}
	switch v := old.(type) {
	case int64:
		return v + 1
	case int32:
		return v + 1
	case int:
		return v + 1
	default:
		return old
	}
}

// Delete deletes the row matching entity's primary key.
func (m *mutator) Delete(ctx context.Context, entity any) error {
	dialect := m.engine.Dialect
	val := reflect.ValueOf(entity).Elem()
	pk := val.FieldByIndex(m.desc.PrimaryKey.FieldIndex).Interface()

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("DELETE FROM ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.TableName))
	sb.WriteString(" WHERE ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.PrimaryKey.Name))
	sb.WriteString(" = ")
	sb.WriteString(dialect.Placeholder(1))

	query := sb.String()
	args := []any{pk}
	m.recordSQL(query, args)

	result, release, err := m.exec(ctx, query, args)
	if err != nil {
		return WrapQueryError("DELETE", query, args, err)
	}
	defer release(true)
	affected, err := result.RowsAffected()
	if err != nil {
		return WrapQueryError("DELETE", query, args, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts entity, or on a primary-key conflict updates updateFields
// (by struct field name) using the dialect's native upsert form.
func (m *mutator) Upsert(ctx context.Context, entity any, updateFields ...string) error {
	dialect := m.engine.Dialect
	val := reflect.ValueOf(entity).Elem()
	cols := insertableColumns(m.desc)
	allInsertCols := m.desc.Columns

	insertCols := allInsertCols
	if m.desc.PrimaryKey.AutoIncrement {
		insertCols = cols
	}

	values := make([]any, len(insertCols))
	for i, c := range insertCols {
		values[i] = val.FieldByIndex(c.FieldIndex).Interface()
	}

	updateCols := make([]string, 0, len(updateFields))
	for _, f := range updateFields {
		if c, ok := m.desc.ColumnsByField[f]; ok {
			updateCols = append(updateCols, c.Name)
		}
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(dialect.QuoteIdentifier(m.desc.TableName))
	sb.WriteString(" (")
	for i, c := range insertCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.QuoteIdentifier(c.Name))
	}
	sb.WriteString(") VALUES (")
	writePlaceholders(sb, len(insertCols), dialect.Placeholder)
	sb.WriteString(")")
	sb.WriteString(dialect.UpsertClause([]string{m.desc.PrimaryKey.Name}, updateCols))

	query := sb.String()
	m.recordSQL(query, values)

	_, release, err := m.exec(ctx, query, values)
	if err != nil {
		return WrapQueryError("UPSERT", query, values, err)
	}
	defer release(true)
	return nil
}
