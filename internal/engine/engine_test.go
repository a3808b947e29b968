package engine

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

	"github.com/Presh-Marketing/wrike-neon-sync/internal/coerce"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

func setupEngine(t *testing.T) (*Engine, *warehouse.DB, *entity.Registry) {
	t.Helper()

	// Foreign keys on so constraint tests behave like the production
	// warehouse.
	dsn := "file:" + filepath.Join(t.TempDir(), "warehouse.db") + "?_pragma=foreign_keys(1)"
	db, err := warehouse.Open("sqlite3", dsn, warehouse.DialectSQLite, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("opening test warehouse: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := entity.Builtin()
	if err := db.InitSchema(context.Background(), reg.All()); err != nil {
		t.Fatalf("initializing schema: %v", err)
	}
	return New(db, log.New(io.Discard, "", 0)), db, reg
}

func mustGet(t *testing.T, reg *entity.Registry, name string) *entity.Descriptor {
	t.Helper()
	d, err := reg.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func clientRecords(n int) []SourceRecord {
	records := make([]SourceRecord, n)
	for i := range records {
		records[i] = SourceRecord{
			ID: fmt.Sprintf("IECLIENT%04d", i),
			Props: map[string]any{
				"title":  fmt.Sprintf("Client %d", i),
				"status": "Green",
			},
		}
	}
	return records
}

func TestRunProcessesAllBatches(t *testing.T) {
	eng, db, reg := setupEngine(t)
	clients := mustGet(t, reg, "clients")

	var events []Progress
	summary, err := eng.Run(context.Background(), clients, clientRecords(60), func(p Progress) {
		events = append(events, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Processed != 60 || summary.Skipped != 0 {
		t.Errorf("summary = %d processed, %d skipped, want 60/0", summary.Processed, summary.Skipped)
	}
	if summary.SuccessfulBatches != 3 || len(summary.FailedBatches) != 0 {
		t.Errorf("batches = %d ok, %d failed, want 3/0", summary.SuccessfulBatches, len(summary.FailedBatches))
	}

	if len(events) != 3 {
		t.Fatalf("got %d progress events, want 3", len(events))
	}
	last := events[len(events)-1]
	if last.Processed != 60 || last.BatchNumber != 3 || last.TotalBatches != 3 {
		t.Errorf("final progress event = %+v", last)
	}

	n, err := db.CountRows(context.Background(), clients)
	if err != nil {
		t.Fatal(err)
	}
	if n != 60 {
		t.Errorf("warehouse has %d rows, want 60", n)
	}
}

func TestRunIdempotent(t *testing.T) {
	eng, db, reg := setupEngine(t)
	clients := mustGet(t, reg, "clients")
	records := clientRecords(10)

	for i := 0; i < 2; i++ {
		summary, err := eng.Run(context.Background(), clients, records, nil)
		if err != nil {
			t.Fatal(err)
		}
		if summary.Processed != 10 {
			t.Fatalf("pass %d processed %d, want 10", i, summary.Processed)
		}
	}

	n, err := db.CountRows(context.Background(), clients)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("row count after double run = %d, want 10", n)
	}
}

func TestDependencySkipThenSuccess(t *testing.T) {
	eng, db, reg := setupEngine(t)
	ctx := context.Background()
	clients := mustGet(t, reg, "clients")
	parents := mustGet(t, reg, "parentprojects")

	orphan := []SourceRecord{{
		ID:       "IEPROJ1",
		ParentID: "IECLIENT1",
		Props:    map[string]any{"title": "Orphaned Project"},
	}}

	summary, err := eng.Run(ctx, parents, orphan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.Skipped != 1 {
		t.Fatalf("orphan run = %d processed, %d skipped, want 0/1", summary.Processed, summary.Skipped)
	}
	if len(summary.Skips) != 1 || summary.Skips[0].RecordID != "IEPROJ1" {
		t.Fatalf("skip detail = %+v", summary.Skips)
	}

	// Parent arrives; the same record now lands.
	if _, err := eng.Run(ctx, clients, []SourceRecord{{ID: "IECLIENT1", Props: map[string]any{"title": "Client"}}}, nil); err != nil {
		t.Fatal(err)
	}
	summary, err = eng.Run(ctx, parents, orphan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Skipped != 0 {
		t.Errorf("retry run = %d processed, %d skipped, want 1/0", summary.Processed, summary.Skipped)
	}

	n, err := db.CountRows(ctx, parents)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("parentprojects rows = %d, want 1", n)
	}
}

func TestSyntheticRootSkipped(t *testing.T) {
	eng, _, reg := setupEngine(t)
	tasks := mustGet(t, reg, "tasks")

	records := []SourceRecord{{
		ID:       "IETASK1",
		ParentID: tasks.SyntheticRootID,
		Props:    map[string]any{"title": "Root-attached task"},
	}}

	summary, err := eng.Run(context.Background(), tasks, records, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.Skipped != 1 {
		t.Errorf("summary = %d processed, %d skipped, want 0/1", summary.Processed, summary.Skipped)
	}
}

func TestRecordWithoutIDSkipped(t *testing.T) {
	eng, _, reg := setupEngine(t)
	clients := mustGet(t, reg, "clients")

	records := []SourceRecord{
		{Props: map[string]any{"title": "No ID"}},
		{ID: "IEOK", Props: map[string]any{"title": "Fine"}},
	}
	summary, err := eng.Run(context.Background(), clients, records, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %d processed, %d skipped, want 1/1", summary.Processed, summary.Skipped)
	}
}

// notesDescriptor builds a descriptor over a hand-made table so tests can
// impose constraints the standard schema does not have.
func notesDescriptor() *entity.Descriptor {
	return &entity.Descriptor{
		Name:     "notes",
		Source:   entity.SourceWrike,
		Table:    "notes",
		IDColumn: "wrike_id",
		Columns: []entity.Column{
			{Name: "title", Prop: "title", Kind: coerce.KindString},
			{Name: "body", Prop: "body", Kind: coerce.KindString},
		},
	}
}

func TestPerRecordIsolation(t *testing.T) {
	eng, db, _ := setupEngine(t)
	ctx := context.Background()
	notes := notesDescriptor()

	_, err := db.Conn().ExecContext(ctx, `
		CREATE TABLE notes (
			wrike_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT,
			active INTEGER,
			synced_at TIMESTAMP
		)`)
	if err != nil {
		t.Fatal(err)
	}

	// The middle record has no title; its insert violates NOT NULL and
	// must cost only itself.
	records := []SourceRecord{
		{ID: "N1", Props: map[string]any{"title": "first"}},
		{ID: "N2", Props: map[string]any{"body": "no title here"}},
		{ID: "N3", Props: map[string]any{"title": "third"}},
	}

	summary, err := eng.Run(ctx, notes, records, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 2 || summary.Skipped != 1 {
		t.Fatalf("summary = %d processed, %d skipped, want 2/1", summary.Processed, summary.Skipped)
	}
	if summary.SuccessfulBatches != 1 || len(summary.FailedBatches) != 0 {
		t.Fatalf("batch accounting = %d ok, %d failed, want 1/0", summary.SuccessfulBatches, len(summary.FailedBatches))
	}
	if summary.Skips[0].RecordID != "N2" {
		t.Errorf("skipped record = %q, want N2", summary.Skips[0].RecordID)
	}

	var n int
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("notes rows = %d, want 2", n)
	}
}

func TestBatchAtomicity(t *testing.T) {
	eng, db, _ := setupEngine(t)
	ctx := context.Background()

	// A deferred foreign key surfaces at COMMIT, producing a genuine
	// batch-level failure after every per-record step succeeded.
	_, err := db.Conn().ExecContext(ctx, `
		CREATE TABLE owners (
			wrike_id TEXT PRIMARY KEY
		)`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Conn().ExecContext(ctx, `
		CREATE TABLE memos (
			wrike_id TEXT PRIMARY KEY,
			owner_ref TEXT REFERENCES owners(wrike_id) DEFERRABLE INITIALLY DEFERRED,
			title TEXT,
			active INTEGER,
			synced_at TIMESTAMP
		)`)
	if err != nil {
		t.Fatal(err)
	}

	memos := &entity.Descriptor{
		Name:      "memos",
		Source:    entity.SourceWrike,
		Table:     "memos",
		IDColumn:  "wrike_id",
		BatchSize: 2,
		Columns: []entity.Column{
			{Name: "title", Prop: "title", Kind: coerce.KindString},
			{Name: "owner_ref", Prop: "ownerRef", Kind: coerce.KindString},
		},
	}

	if _, err := db.Conn().ExecContext(ctx, "INSERT INTO owners (wrike_id) VALUES ('OWNER1')"); err != nil {
		t.Fatal(err)
	}

	// Batch 1 is clean; batch 2 holds one record whose owner does not
	// exist, detonating the whole batch at commit.
	records := []SourceRecord{
		{ID: "M1", Props: map[string]any{"title": "ok", "ownerRef": "OWNER1"}},
		{ID: "M2", Props: map[string]any{"title": "ok", "ownerRef": "OWNER1"}},
		{ID: "M3", Props: map[string]any{"title": "fine", "ownerRef": "OWNER1"}},
		{ID: "M4", Props: map[string]any{"title": "doomed", "ownerRef": "MISSING"}},
	}

	summary, err := eng.Run(ctx, memos, records, nil)
	if err != nil {
		t.Fatal(err)
	}

	if summary.SuccessfulBatches != 1 {
		t.Errorf("successful batches = %d, want 1", summary.SuccessfulBatches)
	}
	if len(summary.FailedBatches) != 1 {
		t.Fatalf("failed batches = %d, want 1", len(summary.FailedBatches))
	}
	failed := summary.FailedBatches[0]
	if failed.BatchNumber != 2 {
		t.Errorf("failed batch number = %d, want 2", failed.BatchNumber)
	}
	if len(failed.RecordIDs) != 2 || failed.RecordIDs[0] != "M3" || failed.RecordIDs[1] != "M4" {
		t.Errorf("failed batch record ids = %v, want [M3 M4]", failed.RecordIDs)
	}

	// Batch failure and per-record skips are separate buckets: the failed
	// batch contributes to neither processed nor skipped.
	if summary.Processed != 2 || summary.Skipped != 0 {
		t.Errorf("summary = %d processed, %d skipped, want 2/0", summary.Processed, summary.Skipped)
	}

	// The first batch's rows survive; the failed batch left nothing.
	var n int
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM memos").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("memos rows = %d, want 2 (first batch only)", n)
	}
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM memos WHERE wrike_id IN ('M3','M4')").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("failed batch left %d rows behind", n)
	}
}

func TestBuildRowSparse(t *testing.T) {
	reg := entity.Builtin()
	deals := mustGet(t, reg, "deals")

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := SourceRecord{
		ID: "301",
		Props: map[string]any{
			"dealname": "Expansion",
			"amount":   "not a number",
			// closedate deliberately missing
		},
	}

	row := BuildRow(deals, rec, now)

	if row["id"] != "301" {
		t.Errorf("id column = %v", row["id"])
	}
	if row["dealname"] != "Expansion" {
		t.Errorf("dealname = %v", row["dealname"])
	}
	if _, present := row["amount"]; present {
		t.Error("uncoercible amount made it into the row")
	}
	if _, present := row["closedate"]; present {
		t.Error("missing closedate made it into the row")
	}
	if row["active"] != true {
		t.Error("active flag not set")
	}
	if row["synced_at"] != now {
		t.Errorf("synced_at = %v, want %v", row["synced_at"], now)
	}
}

func TestRunCancelled(t *testing.T) {
	eng, _, reg := setupEngine(t)
	clients := mustGet(t, reg, "clients")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, clients, clientRecords(5), nil)
	if err == nil {
		t.Fatal("Run ignored a cancelled context")
	}
}
