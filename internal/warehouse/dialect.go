package warehouse

import (
	"fmt"
	"strings"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/coerce"
)

// Dialect abstracts the two SQL backends the warehouse runs on: Postgres in
// production and embedded SQLite in tests. The differences are confined to
// placeholder style, schema support, and DDL type names.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Placeholder returns the 1-based parameter marker for this dialect.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// TableName qualifies a table with its schema. SQLite has no schemas, so
// the pair collapses to a single underscored name there.
func (d Dialect) TableName(schema, table string) string {
	if schema == "" {
		return table
	}
	if d == DialectPostgres {
		return schema + "." + table
	}
	return schema + "_" + table
}

// ColumnType maps a coercion kind to this dialect's column type.
func (d Dialect) ColumnType(k coerce.Kind) string {
	if d == DialectPostgres {
		switch k {
		case coerce.KindNumber:
			return "DOUBLE PRECISION"
		case coerce.KindInteger:
			return "BIGINT"
		case coerce.KindBoolean:
			return "BOOLEAN"
		case coerce.KindDate:
			return "DATE"
		case coerce.KindDateTime:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	}
	switch k {
	case coerce.KindNumber:
		return "REAL"
	case coerce.KindInteger, coerce.KindBoolean:
		return "INTEGER"
	case coerce.KindDate, coerce.KindDateTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// Valid reports whether d names a supported dialect.
func (d Dialect) Valid() bool {
	return d == DialectPostgres || d == DialectSQLite
}

// placeholders renders n comma-separated markers starting at position start.
func (d Dialect) placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}
