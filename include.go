package relorm

import (
	"context"
	"fmt"
	"reflect"
)

// loadIncludes eager-loads every requested navigation (and its nested
// then-includes) onto results in place. The follow-up statements do not
// depend on how many parent rows matched: a to-one or inverse-to-many
// navigation costs one statement, and a many-to-many navigation costs two
// (one over the join table, one over the target table). A query with W
// included navigations nested D levels deep therefore costs at most
// 2*W*D+1 statements total — never one query per row.
func loadIncludes[T any](ctx context.Context, engine *Engine, tx *Transaction, desc *Descriptor, results []*T, specs []*includeSpec) error {
	for _, spec := range specs {
		nav, ok := desc.Navigations[spec.name]
		if !ok {
			return WrapRelationError(spec.name, desc.Type.Name(),
				fmt.Errorf("%w: no navigation registered under this name", ErrUnsupportedExpression))
		}
		if err := loadOneNavigation(ctx, engine, tx, desc, nav, results, spec); err != nil {
			return err
		}
	}
	return nil
}

func loadOneNavigation[T any](ctx context.Context, engine *Engine, tx *Transaction, ownerDesc *Descriptor, nav *Navigation, owners []*T, spec *includeSpec) error {
	targetDesc := DescribeType(nav.TargetType)

	switch nav.Kind {
	case NavToOne:
		return loadToOne(ctx, engine, tx, ownerDesc, targetDesc, nav, owners, spec)
	case NavInverseToMany:
		return loadInverseToMany(ctx, engine, tx, ownerDesc, targetDesc, nav, owners, spec)
	case NavManyToMany:
		return loadManyToMany(ctx, engine, tx, ownerDesc, targetDesc, nav, owners, spec)
	default:
		return WrapRelationError(nav.Name, ownerDesc.Type.Name(),
			fmt.Errorf("%w: unrecognized navigation kind", ErrInvalidRelation))
	}
}

// fkValue reads the FK column's value off an owner entity via reflection.
func fkValue(owner reflect.Value, desc *Descriptor, fkColumn string) (any, bool) {
	col, ok := desc.ColumnsByName[fkColumn]
	if !ok {
		return nil, false
	}
	return owner.FieldByIndex(col.FieldIndex).Interface(), true
}

func distinctValues(values []any) []any {
	seen := make(map[any]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func loadToOne[T any](ctx context.Context, engine *Engine, tx *Transaction, ownerDesc, targetDesc *Descriptor, nav *Navigation, owners []*T, spec *includeSpec) error {
	var fkValues []any
	for _, o := range owners {
		v, ok := fkValue(reflect.ValueOf(o).Elem(), ownerDesc, nav.ForeignKey)
		if ok {
			fkValues = append(fkValues, v)
		}
	}
	fkValues = distinctValues(fkValues)
	if len(fkValues) == 0 {
		return nil
	}

	targets, err := fetchByPK(ctx, engine, tx, targetDesc, fkValues)
	if err != nil {
		return err
	}

	byPK := make(map[any]reflect.Value, len(targets))
	for _, t := range targets {
		pkVal := reflect.ValueOf(t).Elem().FieldByIndex(targetDesc.PrimaryKey.FieldIndex).Interface()
		byPK[pkVal] = reflect.ValueOf(t)
	}

	if len(spec.then) > 0 {
		if err := loadIncludesOnReflected(ctx, engine, tx, targetDesc, targets, spec.then); err != nil {
			return err
		}
	}

	for _, o := range owners {
		ownerVal := reflect.ValueOf(o).Elem()
		fk, ok := fkValue(ownerVal, ownerDesc, nav.ForeignKey)
		if !ok {
			continue
		}
		if target, found := byPK[fk]; found {
			ownerVal.FieldByIndex(nav.FieldIndex).Set(target)
		}
	}
	return nil
}

func loadInverseToMany[T any](ctx context.Context, engine *Engine, tx *Transaction, ownerDesc, targetDesc *Descriptor, nav *Navigation, owners []*T, spec *includeSpec) error {
	var pkValues []any
	for _, o := range owners {
		pkVal := reflect.ValueOf(o).Elem().FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		pkValues = append(pkValues, pkVal)
	}
	pkValues = distinctValues(pkValues)
	if len(pkValues) == 0 {
		return nil
	}

	fkCol, ok := targetDesc.ColumnsByName[nav.ForeignKey]
	if !ok {
		return fmt.Errorf("%w: navigation %q references unknown FK column %q on %s", ErrSchemaMismatch, nav.Name, nav.ForeignKey, targetDesc.Type.Name())
	}

	targets, err := fetchByColumnIn(ctx, engine, tx, targetDesc, fkCol, pkValues)
	if err != nil {
		return err
	}

	if len(spec.then) > 0 {
		if err := loadIncludesOnReflected(ctx, engine, tx, targetDesc, targets, spec.then); err != nil {
			return err
		}
	}

	byOwner := make(map[any][]reflect.Value)
	for _, t := range targets {
		tv := reflect.ValueOf(t).Elem()
		fk := tv.FieldByIndex(fkCol.FieldIndex).Interface()
		byOwner[fk] = append(byOwner[fk], reflect.ValueOf(t))
	}

	for _, o := range owners {
		ownerVal := reflect.ValueOf(o).Elem()
		pk := ownerVal.FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		children := byOwner[pk]
		field := ownerVal.FieldByIndex(nav.FieldIndex)
		slice := reflect.MakeSlice(field.Type(), len(children), len(children))
		for i, c := range children {
			slice.Index(i).Set(c)
		}
		field.Set(slice)
	}
	return nil
}

func loadManyToMany[T any](ctx context.Context, engine *Engine, tx *Transaction, ownerDesc, targetDesc *Descriptor, nav *Navigation, owners []T, spec *includeSpec) error {
	var pkValues []any
	for _, o := range owners {
		pkVal := reflect.ValueOf(o).Elem().FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		pkValues = append(pkValues, pkVal)
	}
	pkValues = distinctValues(pkValues)
	if len(pkValues) == 0 {
		return nil
	}

	dialect := engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("SELECT ")
	sb.WriteString(dialect.QuoteIdentifier(nav.JoinOwnerFK))
	sb.WriteString(", ")
	sb.WriteString(dialect.QuoteIdentifier(nav.JoinOtherFK))
	sb.WriteString(" FROM ")
	sb.WriteString(dialect.QuoteIdentifier(nav.JoinTable))
	sb.WriteString(" WHERE ")
	sb.WriteString(dialect.QuoteIdentifier(nav.JoinOwnerFK))
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(pkValues), dialect.Placeholder)
	sb.WriteString(")")

	conn, release, err := acquire(ctx, engine, tx)
	if err != nil {
		return err
	}

	rows, err := conn.QueryContext(ctx, sb.String(), pkValues...)
	if err != nil {
		release(false)
		return WrapQueryError("SELECT", sb.String(), pkValues, err)
	}
	ownerToTargetPKs := make(map[any][]any)
	var targetPKs []any
	for rows.Next() {
		// Scan into the primary keys' Go types so the map keys compare equal
		// to the key values read off the owner and target structs below.
		ownerPK := reflect.New(ownerDesc.PrimaryKey.FieldType)
		targetPK := reflect.New(targetDesc.PrimaryKey.FieldType)
		if err := rows.Scan(ownerPK.Interface(), targetPK.Interface()); err != nil {
			rows.Close()
			release(true)
			return err
		}
		owner, target := ownerPK.Elem().Interface(), targetPK.Elem().Interface()
		ownerToTargetPKs[owner] = append(ownerToTargetPKs[owner], target)
		targetPKs = append(targetPKs, target)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		release(true)
		return err
	}
	rows.Close()
	release(true)

	targetPKs = distinctValues(targetPKs)
	var targets []any
	if len(targetPKs) > 0 {
		targets, err = fetchByPK(ctx, engine, tx, targetDesc, targetPKs)
		if err != nil {
			return err
		}
	}

	if len(spec.then) > 0 && len(targets) > 0 {
		if err := loadIncludesOnReflected(ctx, engine, tx, targetDesc, targets, spec.then); err != nil {
			return err
		}
	}

	byPK := make(map[any]reflect.Value, len(targets))
	for _, t := range targets {
		pkVal := reflect.ValueOf(t).Elem().FieldByIndex(targetDesc.PrimaryKey.FieldIndex).Interface()
		byPK[pkVal] = reflect.ValueOf(t)
	}

	for _, o := range owners {
		ownerVal := reflect.ValueOf(o).Elem()
		ownerPK := ownerVal.FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		var children []reflect.Value
		for _, targetPK := range ownerToTargetPKs[ownerPK] {
			if target, ok := byPK[targetPK]; ok {
				children = append(children, target)
			}
		}
		field := ownerVal.FieldByIndex(nav.FieldIndex)
		slice := reflect.MakeSlice(field.Type(), len(children), len(children))
		for i, c := range children {
			slice.Index(i).Set(c)
		}
		field.Set(slice)
	}
	return nil
}

// fetchByPK fetches every row of targetDesc whose primary key is in pkValues,
// returning them as []*TargetStruct boxed in []any (via reflection, since
// the navigation target type isn't known at compile time here).
func fetchByPK(ctx context.Context, engine *Engine, tx *Transaction, desc *Descriptor, pkValues []any) ([]any, error) {
	return fetchByColumnIn(ctx, engine, tx, desc, desc.PrimaryKey, pkValues)
}

func fetchByColumnIn(ctx context.Context, engine *Engine, tx *Transaction, desc *Descriptor, col *Column, values []any) ([]any, error) {
	dialect := engine.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT ")
	bareNames := make([]string, len(desc.Columns))
	for i, c := range desc.Columns {
		bareNames[i] = c.Name
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.QuoteIdentifier(c.Name))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(dialect.QuoteIdentifier(desc.TableName))
	sb.WriteString(" WHERE ")
	sb.WriteString(dialect.QuoteIdentifier(col.Name))
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(values), dialect.Placeholder)
	sb.WriteString(")")

	conn, release, err := acquire(ctx, engine, tx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, sb.String(), values...)
	if err != nil {
		release(false)
		return nil, WrapQueryError("SELECT", sb.String(), values, err)
	}
	defer release(true)
	defer rows.Close()

	mappedCols, err := mapColumns(desc, bareNames)
	if err != nil {
		return nil, err
	}

	var out []any
	for rows.Next() {
		entity := reflect.New(desc.Type)
		raw := make([]any, len(mappedCols))
		for i := range raw {
			raw[i] = new(any)
		}
		if err := rows.Scan(raw...); err != nil {
			return nil, err
		}
		for i, c := range mappedCols {
			v := *(raw[i].(*any))
			field := entity.Elem().FieldByIndex(c.FieldIndex)
			if err := assignLogical(field, c, v, dialect); err != nil {
				return nil, err
			}
		}
		out = append(out, entity.Interface())
	}
	return out, rows.Err()
}

// loadIncludesOnReflected re-enters loadIncludes for a []any of *Target,
// used when then-include targets aren't known as a compile-time generic T.
func loadIncludesOnReflected(ctx context.Context, engine *Engine, tx *Transaction, desc *Descriptor, targets []any, specs []*includeSpec) error {
	for _, spec := range specs {
		nav, ok := desc.Navigations[spec.name]
		if !ok {
			return WrapRelationError(spec.name, desc.Type.Name(),
				fmt.Errorf("%w: no navigation registered under this name", ErrUnsupportedExpression))
		}
		targetDesc := DescribeType(nav.TargetType)
		switch nav.Kind {
		case NavToOne:
			if err := loadToOneReflected(ctx, engine, tx, desc, targetDesc, nav, targets, spec); err != nil {
				return err
			}
		case NavInverseToMany:
			if err := loadInverseToManyReflected(ctx, engine, tx, desc, targetDesc, nav, targets, spec); err != nil {
				return err
			}
		case NavManyToMany:
			if err := loadManyToMany(ctx, engine, tx, desc, targetDesc, nav, targets, spec); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadToOneReflected(ctx context.Context, engine *Engine, tx *Transaction, ownerDesc, targetDesc *Descriptor, nav *Navigation, owners []any, spec *includeSpec) error {
	var fkValues []any
	for _, o := range owners {
		v, ok := fkValue(reflect.ValueOf(o).Elem(), ownerDesc, nav.ForeignKey)
		if ok {
			fkValues = append(fkValues, v)
		}
	}
	fkValues = distinctValues(fkValues)
	if len(fkValues) == 0 {
		return nil
	}
	targets, err := fetchByPK(ctx, engine, tx, targetDesc, fkValues)
	if err != nil {
		return err
	}
	byPK := make(map[any]reflect.Value, len(targets))
	for _, t := range targets {
		pkVal := reflect.ValueOf(t).Elem().FieldByIndex(targetDesc.PrimaryKey.FieldIndex).Interface()
		byPK[pkVal] = reflect.ValueOf(t)
	}
	for _, o := range owners {
		ownerVal := reflect.ValueOf(o).Elem()
		fk, ok := fkValue(ownerVal, ownerDesc, nav.ForeignKey)
		if !ok {
			continue
		}
		if target, found := byPK[fk]; found {
			ownerVal.FieldByIndex(nav.FieldIndex).Set(target)
		}
	}
	return nil
}

func loadInverseToManyReflected(ctx context.Context, engine *Engine, tx *Transaction, ownerDesc, targetDesc *Descriptor, nav *Navigation, owners []any, spec *includeSpec) error {
	var pkValues []any
	for _, o := range owners {
		pkVal := reflect.ValueOf(o).Elem().FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		pkValues = append(pkValues, pkVal)
	}
	pkValues = distinctValues(pkValues)
	if len(pkValues) == 0 {
		return nil
	}
	fkCol, ok := targetDesc.ColumnsByName[nav.ForeignKey]
	if !ok {
		return fmt.Errorf("%w: navigation %q references unknown FK column %q", ErrSchemaMismatch, nav.Name, nav.ForeignKey)
	}
	targets, err := fetchByColumnIn(ctx, engine, tx, targetDesc, fkCol, pkValues)
	if err != nil {
		return err
	}
	byOwner := make(map[any][]reflect.Value)
	for _, t := range targets {
		tv := reflect.ValueOf(t).Elem()
		fk := tv.FieldByIndex(fkCol.FieldIndex).Interface()
		byOwner[fk] = append(byOwner[fk], reflect.ValueOf(t))
	}
	for _, o := range owners {
		ownerVal := reflect.ValueOf(o).Elem()
		pk := ownerVal.FieldByIndex(ownerDesc.PrimaryKey.FieldIndex).Interface()
		children := byOwner[pk]
		field := ownerVal.FieldByIndex(nav.FieldIndex)
		slice := reflect.MakeSlice(field.Type(), len(children), len(children))
		for i, c := range children {
			slice.Index(i).Set(c)
		}
		field.Set(slice)
	}
	return nil
}
