package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/dashboard"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/registry"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/source"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/syncer"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/ui"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync dashboard server",
	Long: `Start the dashboard: a WebSocket stream of live sync progress plus
an HTTP API for triggering runs and inspecting status.

  POST /api/sync/<entity>   trigger a sync (or 'all')
  GET  /api/status          currently running syncs
  GET  /api/history         recent finished runs
  GET  /api/stats           warehouse row counts
  GET  /health              liveness
  WS   /ws                  live event stream

With --entities, the overlay file is watched and reloaded on change.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			fatalf("%v", err)
		}
		if servePort != 0 {
			cfg.DashboardPort = servePort
		}

		entities, err := loadEntities(cfg)
		if err != nil {
			fatalf("%v", err)
		}

		db, err := warehouse.OpenPostgres(cfg.NeonDSN(), cfg.NewLogger("[warehouse] "))
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.InitSchema(ctx, entities.All()); err != nil {
			fatalf("%v", err)
		}

		wrike := source.NewWrike("", cfg.WrikeToken, nil, cfg.NewLogger("[wrike] "))
		hubspot := source.NewHubSpot("", cfg.HubSpotToken, nil, cfg.NewLogger("[hubspot] "))
		s := syncer.New(db, wrike, hubspot, entities, cfg.SpaceTitle, cfg.NewLogger("[sync] "))

		logger := cfg.NewLogger("[dashboard] ")
		server := dashboard.NewServer(&dashboard.Config{
			Port:     cfg.DashboardPort,
			Runner:   s,
			Entities: entities,
			Runs:     registry.New(),
			DB:       db,
			Logger:   logger,
		})
		if err := server.Start(); err != nil {
			fatalf("%v", err)
		}

		// Reload the descriptor overlay on change so new column mappings
		// apply to subsequent runs without a restart.
		var watcher *dashboard.OverlayWatcher
		if cfg.EntityFile != "" {
			watcher, err = dashboard.NewOverlayWatcher(cfg.EntityFile)
			if err != nil {
				fatalf("%v", err)
			}
			if err := watcher.Start(); err != nil {
				fatalf("%v", err)
			}
			go func() {
				for range watcher.Changes() {
					reloaded, err := loadEntities(cfg)
					if err != nil {
						logger.Printf("overlay reload failed, keeping previous descriptors: %v", err)
						continue
					}
					if err := db.InitSchema(ctx, reloaded.All()); err != nil {
						logger.Printf("overlay reload failed: %v", err)
						continue
					}
					server.SetRunner(syncer.New(db, wrike, hubspot, reloaded, cfg.SpaceTitle, cfg.NewLogger("[sync] ")), reloaded)
					logger.Printf("entity descriptors reloaded from %s", cfg.EntityFile)
				}
			}()
		}

		fmt.Printf("%s Dashboard listening on %s\n", ui.RenderAccent("▶"), server.GetAddr())

		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		<-sigC

		fmt.Printf("%s Shutting down\n", ui.RenderWarn("…"))
		if watcher != nil {
			_ = watcher.Stop()
		}
		if err := server.Stop(); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from DASHBOARD_PORT, 8080)")
}
