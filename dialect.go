package relorm

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures everything the translator, schema manager, and mutation
// planner need to know about a target database that the standard
// database/sql driver contract does not expose on its own: identifier
// quoting, placeholder syntax, boolean literal form, limit/offset clause
// shape, the native upsert form, last-insert-id recovery, string
// trim/length function names, and the maximum number of bind parameters a
// single statement may carry.
type Dialect struct {
	// Name identifies the dialect for diagnostics ("sqlite", "postgres", "mysql").
	Name string

	// DriverName is the database/sql driver name registered for this dialect.
	DriverName string

	// Placeholder renders the i'th (1-based) bind parameter placeholder.
	Placeholder func(i int) string

	// QuoteIdentifier quotes a table or column name for safe inclusion in SQL.
	QuoteIdentifier func(name string) string

	// BooleanLiteral renders a boolean constant.
	BooleanLiteral func(b bool) string

	// LimitOffset renders the LIMIT/OFFSET clause. limit or offset < 0 means absent.
	LimitOffset func(limit, offset int) string

	// UpsertClause renders the dialect's native "on conflict do update" suffix
	// for an INSERT statement keyed on conflictCols, updating updateCols.
	// updateCols may reference `excluded`/`VALUES()` per-dialect as appropriate.
	UpsertClause func(conflictCols, updateCols []string) string

	// TrimFunc / LengthFunc name the SQL functions for TRIM/LENGTH.
	TrimFunc   string
	LengthFunc string

	// LikeEscape is the escape character used with LIKE for wildcard-escaping.
	LikeEscape string

	// MaxBindParams bounds how many placeholders a single statement may carry;
	// the mutation planner chunks batches so that columns*rows stays under it.
	MaxBindParams int

	// SupportsReturning reports whether INSERT ... RETURNING <pk> can be used
	// to recover a server-assigned auto-increment key.
	SupportsReturning bool

	// LastInsertIDFromResult reports whether a generated auto-increment key
	// can be read from sql.Result.LastInsertId on dialects that don't support
	// RETURNING.
	LastInsertIDFromResult bool

	// TableSchemaQuery (given a %s table name) enumerates columns for
	// ValidateTableDetailed. ListTablesQuery enumerates tables; no code path
	// in this package reads it.
	ListTablesQuery  string
	TableSchemaQuery string
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func sqliteLimitOffset(limit, offset int) string {
	if limit < 0 && offset < 0 {
		return ""
	}
	var sb strings.Builder
	if limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	} else if offset >= 0 {
		// SQLite requires a LIMIT before OFFSET; -1 means "no limit".
		sb.WriteString(" LIMIT -1")
	}
	if offset >= 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
	return sb.String()
}

func sqliteUpsert(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictCols, ", "))
	}
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
}

func postgresUpsert(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictCols, ", "))
	}
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
}

func mysqlUpsert(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return " ON DUPLICATE KEY UPDATE " + conflictCols[0] + " = " + conflictCols[0]
	}
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func standardLimitOffset(limit, offset int) string {
	var sb strings.Builder
	if limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	if offset >= 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
	return sb.String()
}

// SQLiteDialect targets the mattn/go-sqlite3 driver.
var SQLiteDialect = &Dialect{
	Name:                   "sqlite",
	DriverName:             "sqlite3",
	Placeholder:            func(i int) string { return "?" },
	QuoteIdentifier:        quoteDouble,
	BooleanLiteral:         func(b bool) string { return map[bool]string{true: "1", false: "0"}[b] },
	LimitOffset:            sqliteLimitOffset,
	UpsertClause:           sqliteUpsert,
	TrimFunc:               "TRIM",
	LengthFunc:             "LENGTH",
	LikeEscape:             "\\",
	MaxBindParams:          999,
	SupportsReturning:      true,
	LastInsertIDFromResult: true,
	ListTablesQuery:        "SELECT name FROM sqlite_schema WHERE type='table'",
	TableSchemaQuery:       `SELECT name, type, "notnull", dflt_value, pk FROM PRAGMA_TABLE_INFO('%s')`,
}

// PostgresDialect targets the jackc/pgx/v5 stdlib driver.
var PostgresDialect = &Dialect{
	Name:                   "postgres",
	DriverName:             "pgx",
	Placeholder:            func(i int) string { return fmt.Sprintf("$%d", i) },
	QuoteIdentifier:        quoteDouble,
	BooleanLiteral:         func(b bool) string { return map[bool]string{true: "TRUE", false: "FALSE"}[b] },
	LimitOffset:            standardLimitOffset,
	UpsertClause:           postgresUpsert,
	TrimFunc:               "TRIM",
	LengthFunc:             "LENGTH",
	LikeEscape:             "\\",
	MaxBindParams:          65535,
	SupportsReturning:      true,
	LastInsertIDFromResult: false,
	ListTablesQuery:        "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
	TableSchemaQuery:       "SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns WHERE table_name = '%s'",
}

// MySQLDialect targets the go-sql-driver/mysql driver.
var MySQLDialect = &Dialect{
	Name:                   "mysql",
	DriverName:             "mysql",
	Placeholder:            func(i int) string { return "?" },
	QuoteIdentifier:        quoteBacktick,
	BooleanLiteral:         func(b bool) string { return map[bool]string{true: "1", false: "0"}[b] },
	LimitOffset:            standardLimitOffset,
	UpsertClause:           mysqlUpsert,
	TrimFunc:               "TRIM",
	LengthFunc:             "CHAR_LENGTH",
	LikeEscape:             "\\",
	MaxBindParams:          65535,
	SupportsReturning:      false,
	LastInsertIDFromResult: true,
	ListTablesQuery:        "SHOW TABLES",
	TableSchemaQuery:       "DESCRIBE %s",
}
