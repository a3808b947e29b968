package entity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/coerce"
)

func TestBuiltinValid(t *testing.T) {
	r := Builtin()
	if err := r.Validate(); err != nil {
		t.Fatalf("builtin registry invalid: %v", err)
	}
	if got := len(r.All()); got != 9 {
		t.Errorf("builtin registry has %d entities, want 9", got)
	}
}

func TestBuiltinOrderRespectsParents(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range Builtin().All() {
		if d.HasParent() && !seen[d.ParentTable] {
			t.Errorf("entity %s ordered before its parent table %s", d.Name, d.ParentTable)
		}
		seen[d.Table] = true
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := Builtin().Get("invoices"); err == nil {
		t.Fatal("Get accepted unknown entity")
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	d := Descriptor{}
	if got := d.EffectiveBatchSize(); got != DefaultBatchSize {
		t.Errorf("zero batch size = %d, want default %d", got, DefaultBatchSize)
	}
	d.BatchSize = 100
	if got := d.EffectiveBatchSize(); got != 100 {
		t.Errorf("explicit batch size = %d, want 100", got)
	}
}

func TestValidateRejectsHalfParent(t *testing.T) {
	d := Descriptor{
		Name:     "broken",
		Source:   SourceWrike,
		Table:    "broken",
		IDColumn: "wrike_id",
		Columns:  []Column{{Name: "title", Prop: "title", Kind: coerce.KindString}},
	}
	d.ParentColumn = "parent_id" // no ParentTable
	if err := d.Validate(); err == nil {
		t.Fatal("Validate accepted parent_column without parent_table")
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	d := Descriptor{
		Name:     "broken",
		Source:   SourceHubSpot,
		Table:    "broken",
		IDColumn: "id",
		ObjectPath: "brokens",
		Columns:  []Column{{Name: "x", Prop: "x", Kind: coerce.Kind("uuid")}},
	}
	if err := d.Validate(); err == nil {
		t.Fatal("Validate accepted unknown coercion kind")
	}
}

func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing overlay: %v", err)
	}
	return path
}

func TestLoadOverlay(t *testing.T) {
	r := Builtin()
	path := writeOverlay(t, `
deals:
  batch_size: 50
  extra_columns:
    - name: hs_acv
      prop: hs_acv
      kind: number
tasks:
  synthetic_root_id: IEAAAAAAI7777777
`)
	if err := r.LoadOverlay(path); err != nil {
		t.Fatalf("LoadOverlay: %v", err)
	}

	deals, err := r.Get("deals")
	if err != nil {
		t.Fatal(err)
	}
	if deals.EffectiveBatchSize() != 50 {
		t.Errorf("deals batch size = %d, want 50", deals.EffectiveBatchSize())
	}
	last := deals.Columns[len(deals.Columns)-1]
	if last.Name != "hs_acv" || last.Kind != coerce.KindNumber {
		t.Errorf("extra column not appended, got %+v", last)
	}

	tasks, err := r.Get("tasks")
	if err != nil {
		t.Fatal(err)
	}
	if tasks.SyntheticRootID != "IEAAAAAAI7777777" {
		t.Errorf("synthetic root id not overridden: %q", tasks.SyntheticRootID)
	}
}

func TestLoadOverlayUnknownEntity(t *testing.T) {
	r := Builtin()
	path := writeOverlay(t, "invoices:\n  batch_size: 10\n")
	if err := r.LoadOverlay(path); err == nil {
		t.Fatal("LoadOverlay accepted unknown entity name")
	}
}

func TestLoadOverlayInvalidResult(t *testing.T) {
	r := Builtin()
	// Replacing columns with a mapping that has a bad kind must fail
	// validation, not load silently.
	path := writeOverlay(t, `
deals:
  columns:
    - name: dealname
      prop: dealname
      kind: uuid
`)
	if err := r.LoadOverlay(path); err == nil {
		t.Fatal("LoadOverlay accepted invalid column kind")
	}
}
