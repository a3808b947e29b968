// Package warehouse owns the destination database: connection management,
// schema bootstrap from entity descriptors, the sparse upsert statement
// builder, and the parent-existence lookup the sync engine gates writes on.
//
// Everything speaks database/sql so the production Postgres (Neon) warehouse
// and the in-memory SQLite used by tests share one code path, with the small
// backend differences confined to Dialect.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	// Postgres driver for the production warehouse. The SQLite driver used
	// by tests registers itself from the test binaries instead.
	_ "github.com/lib/pq"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/coerce"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
)

// DB wraps the destination database connection.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *log.Logger
}

// Open connects using the given database/sql driver. A nil logger defaults
// to stderr.
func Open(driver, dsn string, dialect Dialect, logger *log.Logger) (*DB, error) {
	if !dialect.Valid() {
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[warehouse] ", log.LstdFlags)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s warehouse: %w", dialect, err)
	}

	return &DB{conn: conn, dialect: dialect, logger: logger}, nil
}

// OpenPostgres connects to the production warehouse via lib/pq.
func OpenPostgres(dsn string, logger *log.Logger) (*DB, error) {
	return Open("postgres", dsn, DialectPostgres, logger)
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging warehouse: %w", err)
	}
	return nil
}

// Dialect returns the SQL dialect this connection speaks.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// BeginTx starts a transaction. The engine opens one per batch.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// Conn exposes the raw connection for reads outside a batch transaction.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// InitSchema creates the destination schemas and tables for every
// descriptor. Idempotent: everything is IF NOT EXISTS, so it runs on every
// startup and before every test.
func (db *DB) InitSchema(ctx context.Context, descriptors []*entity.Descriptor) error {
	if db.dialect == DialectPostgres {
		seen := make(map[string]bool)
		for _, d := range descriptors {
			if d.Schema == "" || seen[d.Schema] {
				continue
			}
			seen[d.Schema] = true
			stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", d.Schema)
			if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating schema %s: %w", d.Schema, err)
			}
		}
	}

	for _, d := range descriptors {
		if _, err := db.conn.ExecContext(ctx, db.createTableStmt(d)); err != nil {
			return fmt.Errorf("creating table for %s: %w", d.Name, err)
		}
	}

	db.logger.Printf("schema ready (%d tables)", len(descriptors))
	return nil
}

func (db *DB) createTableStmt(d *entity.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", db.dialect.TableName(d.Schema, d.Table))
	fmt.Fprintf(&b, "    %s TEXT PRIMARY KEY", d.IDColumn)
	if d.HasParent() {
		fmt.Fprintf(&b, ",\n    %s TEXT", d.ParentColumn)
	}
	for _, c := range d.Columns {
		fmt.Fprintf(&b, ",\n    %s %s", c.Name, db.dialect.ColumnType(c.Kind))
	}
	// Sync metadata: rows are marked active and stamped on every write.
	b.WriteString(",\n    active " + db.dialect.ColumnType(coerce.KindBoolean))
	b.WriteString(",\n    synced_at " + db.dialect.ColumnType(coerce.KindDateTime))
	b.WriteString("\n)")
	return b.String()
}
