package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/ui"
)

var syncLimit int

var syncCmd = &cobra.Command{
	Use:   "sync <entity|all> [limit]",
	Short: "Sync one entity (or everything) into the warehouse",
	Long: `Sync records from the source API into the Neon warehouse.

Entities: clients, parentprojects, childprojects, deliverables, tasks,
companies, contacts, deals, lineitems. 'all' runs every entity in
foreign-key order, so parents land before the records referencing them.

A limit caps how many records are extracted, which is useful for smoke
tests against a production account:

  wrsync sync deals 50
  wrsync sync all`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		limit := syncLimit
		if len(args) == 2 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil || parsed < 0 {
				fatalf("bad limit %q", args[1])
			}
			limit = parsed
		}

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			fatalf("%v", err)
		}
		entities, err := loadEntities(cfg)
		if err != nil {
			fatalf("%v", err)
		}

		s, db, err := buildSyncer(cfg, entities)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.InitSchema(ctx, entities.All()); err != nil {
			fatalf("%v", err)
		}

		progress := func(p engine.Progress) {
			fmt.Printf("   %s batch %d/%d: %d processed, %d skipped\n",
				ui.RenderDim(p.Entity), p.BatchNumber, p.TotalBatches, p.Processed, p.Skipped)
		}

		start := time.Now()
		if name == "all" {
			fmt.Printf("%s Syncing all entities...\n", ui.RenderAccent("🔄"))
			summaries, err := s.RunAll(ctx, limit, progress)
			for _, summary := range summaries {
				printSummary(summary)
			}
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Full sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			return
		}

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), name)
		summary, err := s.RunSync(ctx, name, limit, progress)
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "cap extracted records (0 = no cap)")
}

func printSummary(s *engine.RunSummary) {
	status := ui.RenderPass("✓")
	if len(s.FailedBatches) > 0 {
		status = ui.RenderWarn("!")
	}
	fmt.Printf("%s %s: %d processed, %d skipped, %d/%d batches ok\n",
		status, s.Entity, s.Processed, s.Skipped,
		s.SuccessfulBatches, s.SuccessfulBatches+len(s.FailedBatches))

	for _, skip := range s.Skips {
		fmt.Printf("   %s\n", ui.RenderDim(fmt.Sprintf("skipped %s: %s", skip.RecordID, skip.Reason)))
	}
	for _, failed := range s.FailedBatches {
		fmt.Printf("   %s\n", ui.RenderFail(fmt.Sprintf("batch %d failed (%d records): %s",
			failed.BatchNumber, len(failed.RecordIDs), failed.Error)))
	}
}
