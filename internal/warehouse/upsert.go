package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
)

// Row is a sparse destination row: column name to driver-ready value. The
// external id lives under the descriptor's IDColumn key; columns whose
// source value coerced to absent are simply not present, so an update never
// overwrites a previously-synced value with NULL.
type Row map[string]any

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertRow writes one row inside the caller's transaction. Insert on first
// sight, update on conflict with the external id; only the columns present
// in the row are touched either way.
func (db *DB) UpsertRow(ctx context.Context, ex Execer, d *entity.Descriptor, row Row) error {
	query, args, err := buildUpsert(db.dialect, d, row)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting %s %v: %w", d.Name, row[d.IDColumn], err)
	}
	return nil
}

// buildUpsert renders the INSERT ... ON CONFLICT statement for a sparse row.
// Column order is sorted so identical rows always produce identical SQL.
func buildUpsert(dialect Dialect, d *entity.Descriptor, row Row) (string, []any, error) {
	id, ok := row[d.IDColumn]
	if !ok || id == nil {
		return "", nil, fmt.Errorf("upserting %s: row has no %s", d.Name, d.IDColumn)
	}

	cols := make([]string, 0, len(row))
	for name := range row {
		if name != d.IDColumn {
			cols = append(cols, name)
		}
	}
	sort.Strings(cols)

	names := append([]string{d.IDColumn}, cols...)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, row[name])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		dialect.TableName(d.Schema, d.Table),
		strings.Join(names, ", "),
		dialect.placeholders(1, len(names)))

	if len(cols) == 0 {
		// Nothing to update; conflicting inserts are a no-op.
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", d.IDColumn)
		return b.String(), args, nil
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", d.IDColumn)
	for i, name := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", name, name)
	}
	return b.String(), args, nil
}
