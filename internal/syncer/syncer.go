// Package syncer orchestrates entity runs: it discovers the Wrike workspace
// container, drives the per-entity extraction, hands the records to the
// batch engine, and aggregates summaries for full-pipeline runs.
package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/source"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

// WrikeSource is the slice of the Wrike client the orchestrator needs.
type WrikeSource interface {
	FindSpace(ctx context.Context, title string) (*source.Space, error)
	FoldersByType(ctx context.Context, spaceID, customItemType string) ([]engine.SourceRecord, error)
	FolderTasks(ctx context.Context, folderID string) ([]engine.SourceRecord, error)
}

// HubSpotSource is the slice of the HubSpot client the orchestrator needs.
type HubSpotSource interface {
	FetchAll(ctx context.Context, objectPath string, properties []string, limit int) []engine.SourceRecord
}

// DefaultSpaceTitle is the Wrike space the hierarchy lives under.
const DefaultSpaceTitle = "Production"

// timeRound keeps logged durations readable.
const timeRound = 10 * time.Millisecond

// Syncer runs entity syncs end to end.
type Syncer struct {
	db         *warehouse.DB
	engine     *engine.Engine
	wrike      WrikeSource
	hubspot    HubSpotSource
	entities   *entity.Registry
	spaceTitle string
	logger     *log.Logger
}

// New wires a syncer. Empty spaceTitle means DefaultSpaceTitle; nil logger
// means stderr.
func New(db *warehouse.DB, wrike WrikeSource, hubspot HubSpotSource, entities *entity.Registry, spaceTitle string, logger *log.Logger) *Syncer {
	if spaceTitle == "" {
		spaceTitle = DefaultSpaceTitle
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		db:         db,
		engine:     engine.New(db, logger),
		wrike:      wrike,
		hubspot:    hubspot,
		entities:   entities,
		spaceTitle: spaceTitle,
		logger:     logger,
	}
}

// RunSync syncs one entity. limit > 0 caps how many records are extracted;
// progress may be nil. Extraction failures that mean the run cannot be
// trusted (unknown entity, missing space) return before any write.
func (s *Syncer) RunSync(ctx context.Context, entityName string, limit int, progress engine.ProgressFunc) (*engine.RunSummary, error) {
	d, err := s.entities.Get(entityName)
	if err != nil {
		return nil, err
	}

	records, err := s.extract(ctx, d, limit)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("%s: extracted %d records", d.Name, len(records))

	summary, err := s.engine.Run(ctx, d, records, progress)
	if summary != nil {
		s.logger.Printf("%s: %d processed, %d skipped, %d/%d batches ok in %s",
			d.Name, summary.Processed, summary.Skipped,
			summary.SuccessfulBatches, summary.SuccessfulBatches+len(summary.FailedBatches),
			summary.Duration.Round(timeRound))
	}
	return summary, err
}

// RunAll syncs every entity in foreign-key order, so parents land before
// the records that reference them. It stops at the first entity whose
// extraction fails outright, returning the summaries accumulated so far.
func (s *Syncer) RunAll(ctx context.Context, limit int, progress engine.ProgressFunc) ([]*engine.RunSummary, error) {
	var summaries []*engine.RunSummary
	for _, d := range s.entities.All() {
		summary, err := s.RunSync(ctx, d.Name, limit, progress)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if err != nil {
			return summaries, fmt.Errorf("full run stopped at %s: %w", d.Name, err)
		}
	}
	return summaries, nil
}

func (s *Syncer) extract(ctx context.Context, d *entity.Descriptor, limit int) ([]engine.SourceRecord, error) {
	if d.Source == entity.SourceHubSpot {
		return s.hubspot.FetchAll(ctx, d.ObjectPath, d.Properties, limit), nil
	}

	space, err := s.wrike.FindSpace(ctx, s.spaceTitle)
	if err != nil {
		return nil, err
	}

	var records []engine.SourceRecord
	if d.FolderTasks {
		records, err = s.extractFolderTasks(ctx, space.ID, d)
		if err != nil {
			return nil, err
		}
	} else {
		records, err = s.wrike.FoldersByType(ctx, space.ID, d.CustomItemType)
		if err != nil {
			// Mid-extraction API failure costs this entity's remaining
			// records, not the run.
			s.logger.Printf("%s: folder listing failed, nothing to sync: %v", d.Name, err)
			records = nil
		}
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// extractFolderTasks walks every child-project folder and collects the tasks
// belonging to this entity. Deliverables and plain tasks share those folders
// and are told apart by custom item type: an entity with its own item type
// keeps only matching tasks, while one without keeps whatever no other
// folder-task entity claims. A single folder failing costs that folder, not
// the run.
func (s *Syncer) extractFolderTasks(ctx context.Context, spaceID string, d *entity.Descriptor) ([]engine.SourceRecord, error) {
	childProjects, err := s.entities.Get("childprojects")
	if err != nil {
		return nil, err
	}

	claimed := make(map[string]bool)
	for _, other := range s.entities.All() {
		if other.Name != d.Name && other.FolderTasks && other.CustomItemType != "" {
			claimed[other.CustomItemType] = true
		}
	}

	folders, err := s.wrike.FoldersByType(ctx, spaceID, childProjects.CustomItemType)
	if err != nil {
		s.logger.Printf("%s: child project listing failed, nothing to sync: %v", d.Name, err)
		return nil, nil
	}

	var records []engine.SourceRecord
	for _, folder := range folders {
		tasks, err := s.wrike.FolderTasks(ctx, folder.ID)
		if err != nil {
			s.logger.Printf("%s: skipping folder %s: %v", d.Name, folder.ID, err)
			continue
		}
		for _, task := range tasks {
			itemType, _ := task.Props["customItemTypeId"].(string)
			switch {
			case d.CustomItemType != "":
				if itemType == d.CustomItemType {
					records = append(records, task)
				}
			case !claimed[itemType]:
				records = append(records, task)
			}
		}
	}
	return records, nil
}
