package warehouse

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
)

// setupDB opens a file-backed SQLite warehouse in a temp dir and creates the
// builtin schema. File-backed rather than :memory: so every pooled
// connection sees the same database.
func setupDB(t *testing.T) (*DB, *entity.Registry) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "warehouse.db")
	db, err := Open("sqlite3", dsn, DialectSQLite, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("opening test warehouse: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := entity.Builtin()
	if err := db.InitSchema(context.Background(), reg.All()); err != nil {
		t.Fatalf("initializing schema: %v", err)
	}
	return db, reg
}

func mustGet(t *testing.T, reg *entity.Registry, name string) *entity.Descriptor {
	t.Helper()
	d, err := reg.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestInitSchemaIdempotent(t *testing.T) {
	db, reg := setupDB(t)
	if err := db.InitSchema(context.Background(), reg.All()); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open("sqlite3", ":memory:", Dialect("oracle"), nil); err == nil {
		t.Fatal("Open accepted unknown dialect")
	}
}

func TestUpsertRowInsertThenUpdate(t *testing.T) {
	db, reg := setupDB(t)
	ctx := context.Background()
	clients := mustGet(t, reg, "clients")

	row := Row{
		"wrike_id": "IEAAA",
		"title":    "Acme Corp",
		"status":   "Green",
	}
	if err := db.UpsertRow(ctx, db.Conn(), clients, row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	row["title"] = "Acme Corporation"
	if err := db.UpsertRow(ctx, db.Conn(), clients, row); err != nil {
		t.Fatalf("update: %v", err)
	}

	n, err := db.CountRows(ctx, clients)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("row count after re-upsert = %d, want 1", n)
	}

	var title string
	query := fmt.Sprintf("SELECT title FROM %s WHERE wrike_id = ?", db.Dialect().TableName(clients.Schema, clients.Table))
	if err := db.Conn().QueryRowContext(ctx, query, "IEAAA").Scan(&title); err != nil {
		t.Fatal(err)
	}
	if title != "Acme Corporation" {
		t.Errorf("title after update = %q, want %q", title, "Acme Corporation")
	}
}

// A re-upsert that omits a column must leave the previously written value
// alone rather than nulling it out.
func TestUpsertSparseRowPreservesOmittedColumns(t *testing.T) {
	db, reg := setupDB(t)
	ctx := context.Background()
	clients := mustGet(t, reg, "clients")

	full := Row{
		"wrike_id": "IEBBB",
		"title":    "Globex",
		"status":   "Green",
	}
	if err := db.UpsertRow(ctx, db.Conn(), clients, full); err != nil {
		t.Fatal(err)
	}

	sparse := Row{
		"wrike_id": "IEBBB",
		"status":   "Red",
	}
	if err := db.UpsertRow(ctx, db.Conn(), clients, sparse); err != nil {
		t.Fatal(err)
	}

	var title, status string
	query := fmt.Sprintf("SELECT title, status FROM %s WHERE wrike_id = ?", db.Dialect().TableName(clients.Schema, clients.Table))
	if err := db.Conn().QueryRowContext(ctx, query, "IEBBB").Scan(&title, &status); err != nil {
		t.Fatal(err)
	}
	if title != "Globex" {
		t.Errorf("omitted title was clobbered: %q", title)
	}
	if status != "Red" {
		t.Errorf("status not updated: %q", status)
	}
}

func TestUpsertRowRequiresID(t *testing.T) {
	db, reg := setupDB(t)
	clients := mustGet(t, reg, "clients")

	err := db.UpsertRow(context.Background(), db.Conn(), clients, Row{"title": "No ID"})
	if err == nil {
		t.Fatal("UpsertRow accepted a row without its id column")
	}
}

func TestBuildUpsertDeterministic(t *testing.T) {
	reg := entity.Builtin()
	deals := mustGet(t, reg, "deals")

	row := Row{
		"id":       "101",
		"dealname": "Renewal",
		"amount":   float64(5000),
		"pipeline": "default",
	}

	first, args1, err := buildUpsert(DialectPostgres, deals, row)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		query, args, err := buildUpsert(DialectPostgres, deals, row)
		if err != nil {
			t.Fatal(err)
		}
		if query != first {
			t.Fatalf("statement not deterministic:\n%s\nvs\n%s", first, query)
		}
		if len(args) != len(args1) {
			t.Fatalf("argument count varied: %d vs %d", len(args), len(args1))
		}
	}

	if first != `INSERT INTO hubspot.deal (id, amount, dealname, pipeline) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO UPDATE SET amount = excluded.amount, dealname = excluded.dealname, pipeline = excluded.pipeline` {
		t.Errorf("unexpected statement: %s", first)
	}
}

func TestResolveParent(t *testing.T) {
	db, reg := setupDB(t)
	ctx := context.Background()
	clients := mustGet(t, reg, "clients")
	parents := mustGet(t, reg, "parentprojects")
	tasks := mustGet(t, reg, "tasks")

	t.Run("root entity always passes", func(t *testing.T) {
		ok, err := db.ResolveParent(ctx, nil, clients, "IEANYTHING")
		if err != nil || !ok {
			t.Errorf("ResolveParent = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("empty parent id passes", func(t *testing.T) {
		ok, err := db.ResolveParent(ctx, nil, parents, "")
		if err != nil || !ok {
			t.Errorf("ResolveParent = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("missing parent fails", func(t *testing.T) {
		ok, err := db.ResolveParent(ctx, nil, parents, "IENOPE")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("missing parent resolved as present")
		}
	})

	t.Run("present parent passes", func(t *testing.T) {
		row := Row{"wrike_id": "IECLIENT1", "title": "Client One"}
		if err := db.UpsertRow(ctx, db.Conn(), clients, row); err != nil {
			t.Fatal(err)
		}
		ok, err := db.ResolveParent(ctx, nil, parents, "IECLIENT1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("present parent resolved as missing")
		}
	})

	t.Run("synthetic root fails without lookup", func(t *testing.T) {
		ok, err := db.ResolveParent(ctx, nil, tasks, tasks.SyntheticRootID)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("synthetic root id resolved as present")
		}
	})
}

func TestResolveParentSeesUncommittedRows(t *testing.T) {
	db, reg := setupDB(t)
	ctx := context.Background()
	clients := mustGet(t, reg, "clients")
	parents := mustGet(t, reg, "parentprojects")

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	if err := db.UpsertRow(ctx, tx, clients, Row{"wrike_id": "IETX1", "title": "In Flight"}); err != nil {
		t.Fatal(err)
	}

	// Resolving through the same transaction sees the pending insert.
	ok, err := db.ResolveParent(ctx, tx, parents, "IETX1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("in-transaction parent not visible to resolver")
	}
}

func TestDialect(t *testing.T) {
	if got := DialectPostgres.Placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
	if got := DialectSQLite.Placeholder(3); got != "?" {
		t.Errorf("sqlite placeholder = %q", got)
	}
	if got := DialectPostgres.TableName("projects", "tasks"); got != "projects.tasks" {
		t.Errorf("postgres table name = %q", got)
	}
	if got := DialectSQLite.TableName("projects", "tasks"); got != "projects_tasks" {
		t.Errorf("sqlite table name = %q", got)
	}
	if got := DialectSQLite.TableName("", "tasks"); got != "tasks" {
		t.Errorf("schemaless table name = %q", got)
	}
}

func TestUpsertTimeValues(t *testing.T) {
	db, reg := setupDB(t)
	ctx := context.Background()
	deals := mustGet(t, reg, "deals")

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	row := Row{
		"id":        "202",
		"dealname":  "Timestamped",
		"closedate": when,
		"synced_at": time.Now().UTC(),
		"active":    true,
	}
	if err := db.UpsertRow(ctx, db.Conn(), deals, row); err != nil {
		t.Fatalf("upsert with time values: %v", err)
	}
}
