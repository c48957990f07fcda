package relorm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// rowScanner is satisfied by *sql.Rows and *releasingRows.
type rowScanner interface {
	Scan(dest ...any) error
}

// mapColumns resolves a result set's column names to Descriptor columns in
// the order they were selected, so scanRow can build scan destinations by
// position rather than re-resolving names per row.
func mapColumns(desc *Descriptor, columnNames []string) ([]*Column, error) {
	cols := make([]*Column, len(columnNames))
	for i, name := range columnNames {
		col, ok := desc.ColumnsByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: result column %q has no mapping on %s", ErrSchemaMismatch, name, desc.Type.Name())
		}
		cols[i] = col
	}
	return cols, nil
}

// scanRow scans one row into a freshly allocated *T given its resolved
// column set, applying logical-type decoding (nullable wrapping, enum
// lookup, UTC normalization, dialect-specific GUID/TimeSpan decode).
func scanRow[T any](rows rowScanner, cols []*Column, dialect *Dialect) (*T, error) {
	entity := new(T)
	val := reflect.ValueOf(entity).Elem()

	raw := make([]any, len(cols))
	for i := range raw {
		raw[i] = new(any)
	}
	if err := rows.Scan(raw...); err != nil {
		return nil, err
	}

	for i, col := range cols {
		v := *(raw[i].(*any))
		field := val.FieldByIndex(col.FieldIndex)
		if err := assignLogical(field, col, v, dialect); err != nil {
			return nil, fmt.Errorf("relorm: scan column %s: %w", col.Name, err)
		}
	}
	return entity, nil
}

func assignLogical(field reflect.Value, col *Column, v any, dialect *Dialect) error {
	if v == nil {
		if field.Kind() == reflect.Pointer {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		return nil
	}

	if field.Kind() == reflect.Pointer {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return assignLogical(field.Elem(), col, v, dialect)
	}

	switch col.Logical {
	case LogicalDateTime:
		t, err := decodeTime(v)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t.UTC()))
		return nil
	case LogicalGUID:
		id, err := decodeGUID(v, dialect)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(id))
		return nil
	case LogicalTimeSpan:
		d, err := decodeTimeSpan(v, dialect)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	case LogicalEnum:
		return assignEnum(field, col, v)
	default:
		return setScalar(field, v)
	}
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time %q", t)
	case []byte:
		return decodeTime(string(t))
	case int64:
		return time.Unix(t, 0), nil
	default:
		return time.Time{}, fmt.Errorf("cannot decode time from %T", v)
	}
}

func decodeGUID(v any, dialect *Dialect) (uuid.UUID, error) {
	switch t := v.(type) {
	case string:
		return uuid.Parse(t)
	case []byte:
		if len(t) == 16 {
			return uuid.FromBytes(t)
		}
		return uuid.Parse(string(t))
	case uuid.UUID:
		return t, nil
	default:
		return uuid.UUID{}, fmt.Errorf("cannot decode GUID from %T on %s", v, dialect.Name)
	}
}

func decodeTimeSpan(v any, dialect *Dialect) (time.Duration, error) {
	switch t := v.(type) {
	case int64:
		return time.Duration(t), nil
	case float64:
		return time.Duration(t), nil
	case string:
		// MySQL/Postgres represent intervals as "HH:MM:SS"; SQLite stores
		// TimeSpan as a plain integer of nanoseconds via the application.
		parts := strings.Split(t, ":")
		if len(parts) == 3 {
			h, _ := strconv.Atoi(parts[0])
			m, _ := strconv.Atoi(parts[1])
			s, _ := strconv.ParseFloat(parts[2], 64)
			return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second)), nil
		}
		return time.ParseDuration(t)
	case []byte:
		return decodeTimeSpan(string(t), dialect)
	default:
		return 0, fmt.Errorf("cannot decode TimeSpan from %T on %s", v, dialect.Name)
	}
}

func assignEnum(field reflect.Value, col *Column, v any) error {
	switch field.Kind() {
	case reflect.String:
		switch t := v.(type) {
		case string:
			field.SetString(t)
		case []byte:
			field.SetString(string(t))
		default:
			// enum-by-int -> name: exact ordinal lookup in EnumNames.
			ord, err := toInt64(v)
			if err != nil {
				return err
			}
			name, ok := col.EnumNames[ord]
			if !ok {
				return fmt.Errorf("%w: no enum name registered for ordinal %d", ErrTypeMismatch, ord)
			}
			field.SetString(name)
		}
		return nil
	default:
		ord, err := toInt64(v)
		if err != nil {
			return err
		}
		field.SetInt(ord)
		return nil
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

func setScalar(field reflect.Value, v any) error {
	val := reflect.ValueOf(v)

	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if b, ok := v.([]byte); ok {
			field.SetString(string(b))
			return nil
		}
		field.SetString(fmt.Sprint(v))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		field.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		field.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		switch t := v.(type) {
		case float64:
			field.SetFloat(t)
		case int64:
			field.SetFloat(float64(t))
		case []byte:
			f, err := strconv.ParseFloat(string(t), 64)
			if err != nil {
				return err
			}
			field.SetFloat(f)
		default:
			return fmt.Errorf("cannot convert %T to float", v)
		}
		return nil
	case reflect.Bool:
		switch t := v.(type) {
		case bool:
			field.SetBool(t)
		case int64:
			field.SetBool(t != 0)
		default:
			return fmt.Errorf("cannot convert %T to bool", v)
		}
		return nil
	}

	return fmt.Errorf("unsupported conversion from %T to %s", v, field.Type())
}
