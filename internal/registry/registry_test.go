package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
)

func TestBeginRefusesConcurrentRun(t *testing.T) {
	r := New()

	if _, err := r.Begin("deals"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Begin("deals"); err == nil {
		t.Fatal("second concurrent run accepted")
	}
	// A different entity is fine.
	if _, err := r.Begin("contacts"); err != nil {
		t.Fatal(err)
	}

	if got := len(r.Active()); got != 2 {
		t.Errorf("active runs = %d, want 2", got)
	}
}

func TestBeginFullRunExcludesEntityRuns(t *testing.T) {
	r := New()

	// An entity run blocks a full run.
	if _, err := r.Begin("clients"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Begin("all"); err == nil {
		t.Fatal("full run accepted while clients was running")
	}
	r.Complete("clients", nil)

	// And a full run blocks every entity.
	if _, err := r.Begin("all"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Begin("deals"); err == nil {
		t.Fatal("deals run accepted while a full run was active")
	}
	r.Complete("all", nil)

	if _, err := r.Begin("deals"); err != nil {
		t.Errorf("Begin after full run finished: %v", err)
	}
}

func TestProgressAndComplete(t *testing.T) {
	r := New()
	if _, err := r.Begin("tasks"); err != nil {
		t.Fatal(err)
	}

	r.Progress(engine.Progress{Entity: "tasks", BatchNumber: 2, TotalBatches: 4, Processed: 50, Skipped: 3})

	active := r.Active()
	if len(active) != 1 {
		t.Fatalf("active runs = %d, want 1", len(active))
	}
	if active[0].Processed != 50 || active[0].BatchNumber != 2 {
		t.Errorf("progress not applied: %+v", active[0])
	}

	r.Complete("tasks", &engine.RunSummary{Entity: "tasks", Processed: 97, Skipped: 3})

	if len(r.Active()) != 0 {
		t.Error("run still active after Complete")
	}
	history := r.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].State != StateCompleted || history[0].Processed != 97 {
		t.Errorf("history entry = %+v", history[0])
	}
	if history[0].FinishedAt.IsZero() {
		t.Error("finished run has no end time")
	}

	// Entity can run again now.
	if _, err := r.Begin("tasks"); err != nil {
		t.Errorf("Begin after Complete: %v", err)
	}
}

func TestFailRecordsError(t *testing.T) {
	r := New()
	if _, err := r.Begin("clients"); err != nil {
		t.Fatal(err)
	}
	r.Fail("clients", "wrike space not found")

	history := r.History()
	if len(history) != 1 || history[0].State != StateFailed {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Error != "wrike space not found" {
		t.Errorf("error = %q", history[0].Error)
	}
}

func TestHistoryCapped(t *testing.T) {
	r := New()
	for i := 0; i < historyLimit+20; i++ {
		entity := fmt.Sprintf("e%d", i)
		if _, err := r.Begin(entity); err != nil {
			t.Fatal(err)
		}
		r.Complete(entity, &engine.RunSummary{Entity: entity})
	}
	if got := len(r.History()); got != historyLimit {
		t.Errorf("history length = %d, want %d", got, historyLimit)
	}
	last := r.History()[historyLimit-1]
	if last.Entity != fmt.Sprintf("e%d", historyLimit+19) {
		t.Errorf("newest entry = %q", last.Entity)
	}
}

func TestConcurrentUse(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entity := fmt.Sprintf("e%d", i)
			if _, err := r.Begin(entity); err != nil {
				t.Error(err)
				return
			}
			r.Progress(engine.Progress{Entity: entity, Processed: i})
			r.Complete(entity, &engine.RunSummary{Entity: entity, Processed: i})
		}(i)
	}
	wg.Wait()

	if len(r.Active()) != 0 {
		t.Errorf("active = %d, want 0", len(r.Active()))
	}
	if len(r.History()) != 20 {
		t.Errorf("history = %d, want 20", len(r.History()))
	}
}
