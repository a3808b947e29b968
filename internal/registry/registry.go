// Package registry tracks sync runs: which entities are running right now
// and how recent runs ended. It is an owned value injected into whatever
// needs it (the dashboard server, the CLI) rather than process-global state.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
)

// State is a run's lifecycle position.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Run is a snapshot of one sync run.
type Run struct {
	ID            int       `json:"id"`
	Entity        string    `json:"entity"`
	State         State     `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	Processed     int       `json:"processed"`
	Skipped       int       `json:"skipped"`
	FailedBatches int       `json:"failed_batches"`
	BatchNumber   int       `json:"batch_number"`
	TotalBatches  int       `json:"total_batches"`
	Error         string    `json:"error,omitempty"`
}

// historyLimit caps how many finished runs are retained.
const historyLimit = 50

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	nextID  int
	active  map[string]*Run
	history []Run
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{active: make(map[string]*Run)}
}

// Begin registers a new run for entity. At most one run per entity may be
// active; a second concurrent trigger is refused. A full-pipeline run
// ("all") covers every entity, so it excludes, and is excluded by, any
// other active run.
func (r *Registry) Begin(entity string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.active[entity]; ok {
		return 0, fmt.Errorf("sync of %s already running (run %d)", entity, run.ID)
	}
	if entity == "all" {
		for _, run := range r.active {
			return 0, fmt.Errorf("sync of %s already running (run %d)", run.Entity, run.ID)
		}
	} else if run, ok := r.active["all"]; ok {
		return 0, fmt.Errorf("full sync already running (run %d)", run.ID)
	}

	r.nextID++
	r.active[entity] = &Run{
		ID:        r.nextID,
		Entity:    entity,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	}
	return r.nextID, nil
}

// Progress folds a batch progress event into the entity's active run.
// Events for entities with no active run are dropped.
func (r *Registry) Progress(p engine.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.active[p.Entity]
	if !ok {
		return
	}
	run.Processed = p.Processed
	run.Skipped = p.Skipped
	run.FailedBatches = p.Failed
	run.BatchNumber = p.BatchNumber
	run.TotalBatches = p.TotalBatches
}

// Complete finishes the entity's active run with its final summary.
func (r *Registry) Complete(entity string, summary *engine.RunSummary) {
	r.finish(entity, StateCompleted, summary, "")
}

// Fail finishes the entity's active run as failed.
func (r *Registry) Fail(entity string, errMsg string) {
	r.finish(entity, StateFailed, nil, errMsg)
}

func (r *Registry) finish(entity string, state State, summary *engine.RunSummary, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.active[entity]
	if !ok {
		return
	}
	delete(r.active, entity)

	run.State = state
	run.FinishedAt = time.Now().UTC()
	run.Error = errMsg
	if summary != nil {
		run.Processed = summary.Processed
		run.Skipped = summary.Skipped
		run.FailedBatches = len(summary.FailedBatches)
	}

	r.history = append(r.history, *run)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
}

// Active returns a snapshot of the currently running syncs.
func (r *Registry) Active() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Run, 0, len(r.active))
	for _, run := range r.active {
		out = append(out, *run)
	}
	return out
}

// History returns finished runs, most recent last.
func (r *Registry) History() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Run, len(r.history))
	copy(out, r.history)
	return out
}
