package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/config"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/source"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/syncer"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

var (
	cfgFile    string
	entityFile string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "wrsync",
	Short: "Wrike/HubSpot to Neon warehouse sync",
	Long: `wrsync pulls the Wrike project hierarchy (clients, projects,
deliverables, tasks) and HubSpot CRM objects (companies, contacts, deals,
line items) into a Postgres warehouse on Neon.

Records are written in transactional batches with idempotent upserts, so a
sync can be re-run at any time. Credentials come from the environment:
WRIKE_API_TOKEN, HUBSPOT_API_TOKEN, and the NEON_* variables (run
'wrsync init' for interactive setup).`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	rootCmd.PersistentFlags().StringVar(&entityFile, "entities", "", "entity descriptor overlay file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also log to this file, with rotation")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
}

// loadConfig loads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if entityFile != "" {
		cfg.EntityFile = entityFile
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// loadEntities builds the descriptor registry, applying the overlay file
// when one is configured.
func loadEntities(cfg *config.Config) (*entity.Registry, error) {
	reg := entity.Builtin()
	if cfg.EntityFile != "" {
		if err := reg.LoadOverlay(cfg.EntityFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildSyncer wires the full pipeline: warehouse, both API clients, and the
// orchestrator. The caller owns closing the returned DB.
func buildSyncer(cfg *config.Config, entities *entity.Registry) (*syncer.Syncer, *warehouse.DB, error) {
	logger := cfg.NewLogger("[sync] ")

	db, err := warehouse.OpenPostgres(cfg.NeonDSN(), cfg.NewLogger("[warehouse] "))
	if err != nil {
		return nil, nil, err
	}

	wrike := source.NewWrike("", cfg.WrikeToken, nil, cfg.NewLogger("[wrike] "))
	hubspot := source.NewHubSpot("", cfg.HubSpotToken, nil, cfg.NewLogger("[hubspot] "))

	return syncer.New(db, wrike, hubspot, entities, cfg.SpaceTitle, logger), db, nil
}

// fatalf prints an error and exits, matching the rest of the CLI's output.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
