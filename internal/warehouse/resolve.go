package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
)

// Querier is satisfied by *sql.Tx and *sql.DB. The engine resolves parents
// inside the batch transaction so a parent written earlier in the same
// batch already counts.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ResolveParent reports whether a record's parent requirement is satisfied.
//
// Root entities and records with no parent id pass trivially. The
// descriptor's synthetic-root sentinel always fails without a lookup: the
// upstream API emits it for workspace-root attachments and no real row ever
// carries it. Everything else is a point lookup of the parent's external id.
func (db *DB) ResolveParent(ctx context.Context, q Querier, d *entity.Descriptor, parentID string) (bool, error) {
	if !d.HasParent() || parentID == "" {
		return true, nil
	}
	if d.SyntheticRootID != "" && parentID == d.SyntheticRootID {
		return false, nil
	}
	if q == nil {
		q = db.conn
	}

	// Parent tables share the entity's id column name; the Wrike hierarchy
	// keys everything by wrike_id.
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s LIMIT 1",
		db.dialect.TableName(d.Schema, d.ParentTable), d.IDColumn, db.dialect.Placeholder(1))

	var one int
	err := q.QueryRowContext(ctx, query, parentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving %s parent %s: %w", d.Name, parentID, err)
	}
	return true, nil
}

// CountRows returns the row count of an entity's destination table. Used by
// the pre-flight check and the dashboard stats endpoint.
func (db *DB) CountRows(ctx context.Context, d *entity.Descriptor) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", db.dialect.TableName(d.Schema, d.Table))
	var n int64
	if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", d.Name, err)
	}
	return n, nil
}
