package relorm

import (
	"context"
	"fmt"
	"os"

	"github.com/iancoleman/strcase"
	"github.com/jedib0t/go-pretty/table"
)

// logicalToSQLType maps a Column's logical type to a reasonable native
// column type per dialect, for InitializeTable's generated DDL.
func logicalToSQLType(dialect *Dialect, col *Column) string {
	switch dialect.Name {
	case "postgres":
		switch col.Logical {
		case LogicalInt:
			return "INTEGER"
		case LogicalInt64:
			return "BIGINT"
		case LogicalFloat:
			return "DOUBLE PRECISION"
		case LogicalBool:
			return "BOOLEAN"
		case LogicalDateTime:
			return "TIMESTAMPTZ"
		case LogicalGUID:
			return "UUID"
		case LogicalTimeSpan:
			return "BIGINT"
		case LogicalBytes:
			return "BYTEA"
		default:
			if col.Length > 0 {
				return fmt.Sprintf("VARCHAR(%d)", col.Length)
			}
			return "TEXT"
		}
	case "mysql":
		switch col.Logical {
		case LogicalInt:
			return "INT"
		case LogicalInt64:
			return "BIGINT"
		case LogicalFloat:
			return "DOUBLE"
		case LogicalBool:
			return "TINYINT(1)"
		case LogicalDateTime:
			return "DATETIME(6)"
		case LogicalGUID:
			return "CHAR(36)"
		case LogicalTimeSpan:
			return "BIGINT"
		case LogicalBytes:
			return "BLOB"
		default:
			if col.Length > 0 {
				return fmt.Sprintf("VARCHAR(%d)", col.Length)
			}
			return "TEXT"
		}
	default: // sqlite
		switch col.Logical {
		case LogicalInt, LogicalInt64, LogicalBool, LogicalTimeSpan:
			return "INTEGER"
		case LogicalFloat:
			return "REAL"
		case LogicalBytes:
			return "BLOB"
		default:
			return "TEXT"
		}
	}
}

// InitializeTable issues CREATE TABLE IF NOT EXISTS for desc, followed by its
// declared indexes, using dialect-appropriate column types.
func InitializeTable(ctx context.Context, e *Engine, desc *Descriptor) error {
	dialect := e.Dialect
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(dialect.QuoteIdentifier(desc.TableName))
	sb.WriteString(" (")
	for i, col := range desc.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.QuoteIdentifier(col.Name))
		sb.WriteString(" ")
		sb.WriteString(logicalToSQLType(dialect, col))
		if col.IsPrimaryKey {
			sb.WriteString(" PRIMARY KEY")
			if col.AutoIncrement && dialect.Name == "sqlite" {
				sb.WriteString(" AUTOINCREMENT")
			}
		} else if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
	}
	sb.WriteString(")")

	if _, err := e.DB.ExecContext(ctx, sb.String()); err != nil {
		return fmt.Errorf("relorm: initialize table %s: %w", desc.TableName, err)
	}

	return CreateIndexes(ctx, e, desc)
}

// CreateIndexes issues CREATE [UNIQUE] INDEX IF NOT EXISTS for every index
// declared on desc.
func CreateIndexes(ctx context.Context, e *Engine, desc *Descriptor) error {
	dialect := e.Dialect
	for _, idx := range desc.Indexes {
		sb := GetStringBuilder()
		sb.WriteString("CREATE ")
		if idx.Unique {
			sb.WriteString("UNIQUE ")
		}
		sb.WriteString("INDEX IF NOT EXISTS ")
		sb.WriteString(dialect.QuoteIdentifier(idx.Name))
		sb.WriteString(" ON ")
		sb.WriteString(dialect.QuoteIdentifier(desc.TableName))
		sb.WriteString(" (")
		for i, c := range idx.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(dialect.QuoteIdentifier(c))
		}
		sb.WriteString(")")
		query := sb.String()
		PutStringBuilder(sb)

		if _, err := e.DB.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("relorm: create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

// DropIndex drops a named index.
func DropIndex(ctx context.Context, e *Engine, indexName string) error {
	query := "DROP INDEX IF EXISTS " + e.Dialect.QuoteIdentifier(indexName)
	_, err := e.DB.ExecContext(ctx, query)
	return err
}

// ValidateTableDetailed compares desc's columns against the live database
// schema and reports every discrepancy instead of stopping at the first one:
// missing mapped columns are errors, columns present in the database but not
// mapped onto desc are warnings (unless you're passed the whole app's schema,
// an extra DB column usually means a hand-added field the descriptor hasn't
// caught up to yet, not corruption).
func ValidateTableDetailed(ctx context.Context, e *Engine, desc *Descriptor) (valid bool, errs []string, warnings []string) {
	query := fmt.Sprintf(e.Dialect.TableSchemaQuery, desc.TableName)
	rows, err := e.DB.QueryContext(ctx, query)
	if err != nil {
		return false, []string{fmt.Sprintf("querying schema for %s: %v", desc.TableName, err)}, nil
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return false, []string{err.Error()}, nil
	}
	present := make(map[string]bool)
	for rows.Next() {
		raw := make([]any, len(colNames))
		for i := range raw {
			raw[i] = new(any)
		}
		if err := rows.Scan(raw...); err != nil {
			return false, []string{err.Error()}, nil
		}
		if len(raw) > 0 {
			if name, ok := (*(raw[0].(*any))).(string); ok {
				present[name] = true
			} else if b, ok := (*(raw[0].(*any))).([]byte); ok {
				present[string(b)] = true
			}
		}
	}

	mapped := make(map[string]bool, len(desc.Columns))
	for _, col := range desc.Columns {
		mapped[col.Name] = true
		if !present[col.Name] {
			errs = append(errs, fmt.Sprintf("column %q is mapped but missing from table %s", col.Name, desc.TableName))
		}
	}
	for name := range present {
		if !mapped[name] {
			warnings = append(warnings, fmt.Sprintf("column %q exists in table %s but is not mapped", name, desc.TableName))
		}
	}
	return len(errs) == 0, errs, warnings
}

// PrintSchematic renders desc's columns as a table to stdout, for diagnostics.
// The JSON column shows the lowerCamelCase name a projection's mapstructure
// decode target would typically use for this field.
func PrintSchematic(desc *Descriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Column", "Field", "JSON", "Type", "PK", "Auto", "Nullable", "Version"})
	for _, c := range desc.Columns {
		t.AppendRow(table.Row{
			c.Name, c.FieldName, strcase.ToLowerCamel(c.FieldName),
			logicalName(c.Logical), c.IsPrimaryKey, c.AutoIncrement, c.Nullable, versionName(c.Version),
		})
	}
	t.Render()
}

func logicalName(l LogicalType) string {
	return [...]string{"string", "int", "int64", "float", "bool", "datetime", "guid", "timespan", "enum", "bytes"}[l]
}

func versionName(v VersionRole) string {
	return [...]string{"none", "integer", "timestamp"}[v]
}
