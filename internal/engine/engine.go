// Package engine is the batch upsert core: it takes the records an
// extraction pass produced and writes them to the warehouse in fixed-size
// transactional batches.
//
// Failure handling is two-tier. Expected bad data — a record missing its
// parent, an id-less record, a row the database rejects — costs only that
// record: it is skipped, counted, and the batch carries on under a
// savepoint. Systemic failures — a commit error, a broken connection — fail
// the whole batch: the transaction rolls back, the batch is recorded with
// its record ids for replay, and the run moves to the next batch. A failed
// batch's records are never also counted as skipped; the two buckets are
// mutually exclusive so totals reconcile.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/coerce"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

// SourceRecord is one extracted record, flattened by the source layer:
// nested payload structures and custom fields are already lifted into Props.
type SourceRecord struct {
	ID       string
	ParentID string
	Props    map[string]any
}

// Skip records one record left out of a committed batch.
type Skip struct {
	RecordID string
	Reason   string
}

// FailedBatch records a batch whose transaction did not commit. RecordIDs
// lets an operator replay exactly what was lost.
type FailedBatch struct {
	BatchNumber int
	RecordIDs   []string
	Error       string
}

// RunSummary is the accounting for one entity run.
type RunSummary struct {
	Entity            string
	TotalRecords      int
	Processed         int
	Skipped           int
	Skips             []Skip
	SuccessfulBatches int
	FailedBatches     []FailedBatch
	Duration          time.Duration
}

// Progress is emitted after every batch, committed or failed.
type Progress struct {
	Entity       string
	BatchNumber  int
	TotalBatches int
	// Processed and Skipped are cumulative across the run so far.
	Processed int
	Skipped   int
	Failed    int
}

// ProgressFunc receives batch progress; nil disables reporting.
type ProgressFunc func(Progress)

// Engine writes extracted records to the warehouse.
type Engine struct {
	db     *warehouse.DB
	logger *log.Logger
}

// New returns an engine writing to db. A nil logger defaults to stderr.
func New(db *warehouse.DB, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{db: db, logger: logger}
}

// BuildRow coerces a record into a sparse destination row. Properties that
// coerce to absent are omitted entirely, so updates only touch what the
// source actually provided. Every row carries the active flag and sync
// timestamp.
func BuildRow(d *entity.Descriptor, rec SourceRecord, now time.Time) warehouse.Row {
	row := warehouse.Row{d.IDColumn: rec.ID}
	if d.HasParent() && rec.ParentID != "" {
		row[d.ParentColumn] = rec.ParentID
	}
	for _, c := range d.Columns {
		v, ok := coerce.Value(c.Kind, rec.Props[c.Prop])
		if ok {
			row[c.Name] = v
		}
	}
	row["active"] = true
	row["synced_at"] = now
	return row
}

// Run writes records in batches of the descriptor's batch size, one
// transaction per batch. It returns a summary of every outcome; the error
// is non-nil only when the context is cancelled mid-run.
func (e *Engine) Run(ctx context.Context, d *entity.Descriptor, records []SourceRecord, progress ProgressFunc) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{Entity: d.Name, TotalRecords: len(records)}

	size := d.EffectiveBatchSize()
	totalBatches := (len(records) + size - 1) / size

	for i := 0; i < len(records); i += size {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("sync of %s cancelled: %w", d.Name, err)
		}

		end := i + size
		if end > len(records) {
			end = len(records)
		}
		batchNumber := i/size + 1

		outcome := e.processBatch(ctx, d, records[i:end], batchNumber)
		if outcome.failed != nil {
			summary.FailedBatches = append(summary.FailedBatches, *outcome.failed)
			e.logger.Printf("%s batch %d/%d FAILED (%d records): %s",
				d.Name, batchNumber, totalBatches, len(outcome.failed.RecordIDs), outcome.failed.Error)
		} else {
			summary.SuccessfulBatches++
			summary.Processed += outcome.processed
			summary.Skipped += len(outcome.skips)
			summary.Skips = append(summary.Skips, outcome.skips...)
			e.logger.Printf("%s batch %d/%d committed: %d processed, %d skipped",
				d.Name, batchNumber, totalBatches, outcome.processed, len(outcome.skips))
		}

		if progress != nil {
			progress(Progress{
				Entity:       d.Name,
				BatchNumber:  batchNumber,
				TotalBatches: totalBatches,
				Processed:    summary.Processed,
				Skipped:      summary.Skipped,
				Failed:       len(summary.FailedBatches),
			})
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

type batchResult struct {
	processed int
	skips     []Skip
	failed    *FailedBatch
}

func recordIDs(records []SourceRecord) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

// processBatch writes one batch inside a single transaction. Per-record
// failures roll back to a savepoint and skip the record; anything that
// breaks the transaction itself fails the batch, discarding its per-record
// accounting.
func (e *Engine) processBatch(ctx context.Context, d *entity.Descriptor, batch []SourceRecord, batchNumber int) batchResult {
	fail := func(err error) batchResult {
		return batchResult{failed: &FailedBatch{
			BatchNumber: batchNumber,
			RecordIDs:   recordIDs(batch),
			Error:       err.Error(),
		}}
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fail(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var result batchResult

	for _, rec := range batch {
		if rec.ID == "" {
			result.skips = append(result.skips, Skip{Reason: "record has no id"})
			continue
		}

		// Resolved inside the transaction, so a parent written earlier in
		// this same batch counts.
		ok, err := e.db.ResolveParent(ctx, tx, d, rec.ParentID)
		if err != nil {
			return fail(err)
		}
		if !ok {
			result.skips = append(result.skips, Skip{
				RecordID: rec.ID,
				Reason:   fmt.Sprintf("parent %s not in %s", rec.ParentID, d.ParentTable),
			})
			continue
		}

		row := BuildRow(d, rec, now)

		if _, err := tx.ExecContext(ctx, "SAVEPOINT record"); err != nil {
			return fail(err)
		}
		if err := e.db.UpsertRow(ctx, tx, d, row); err != nil {
			// Bad data for this row only; put the transaction back and
			// move on.
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record"); rbErr != nil {
				return fail(fmt.Errorf("recovering from record failure: %w", rbErr))
			}
			result.skips = append(result.skips, Skip{RecordID: rec.ID, Reason: err.Error()})
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT record"); err != nil {
			return fail(err)
		}
		result.processed++
	}

	if err := tx.Commit(); err != nil {
		// The whole batch is lost; batch failure supersedes whatever
		// per-record accounting accumulated above.
		return fail(fmt.Errorf("committing batch: %w", err))
	}
	committed = true
	return result
}
