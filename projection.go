package relorm

import (
	"context"

	"github.com/mitchellh/mapstructure"
)

// Project runs q's current filter/order/paging but decodes each row into a
// caller-supplied shape R instead of the entity type T the QueryBuilder was
// built for, via mapstructure (keyed by the entity's column names, not its
// Go field names, matching the raw row data). Use it for read-only reporting
// shapes that don't warrant their own Descriptor.
func Project[T any, R any](ctx context.Context, q *QueryBuilder[T], dest *R) error {
	rows, err := projectRows[T](ctx, q)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return decodeRow(rows[0], dest)
}

// ProjectAll is the slice form of Project.
func ProjectAll[T any, R any](ctx context.Context, q *QueryBuilder[T]) ([]R, error) {
	rows, err := projectRows[T](ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]R, len(rows))
	for i, row := range rows {
		var r R
		if err := decodeRow(row, &r); err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func decodeRow(row map[string]any, dest any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "relorm",
		WeaklyTypedInput: true,
		Result:           dest,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(row)
}

// projectRows executes q and returns its raw column-name-keyed rows, ahead of
// any mapping onto T.
func projectRows[T any](ctx context.Context, q *QueryBuilder[T]) ([]map[string]any, error) {
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

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(colNames))
		for i := range raw {
			raw[i] = new(any)
		}
		if err := rows.Scan(raw...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(colNames))
		for i, name := range colNames {
			row[name] = *(raw[i].(*any))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
