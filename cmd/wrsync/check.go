package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/source"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/ui"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration and connectivity",
	Long: `Run the pre-flight checks: configuration completeness, warehouse
connectivity, and an authenticated call against each source API. Nothing
is written. Exits non-zero if any check fails.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		ctx := cmd.Context()
		failures := 0
		report := func(name string, err error) {
			if err != nil {
				failures++
				fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), name, err)
				return
			}
			fmt.Printf("%s %s\n", ui.RenderPass("✓"), name)
		}

		report("configuration", cfg.Validate())
		if failures > 0 {
			// Without credentials the remaining checks only add noise.
			fatalf("%d check(s) failed", failures)
		}

		db, err := warehouse.OpenPostgres(cfg.NeonDSN(), cfg.NewLogger("[warehouse] "))
		if err == nil {
			defer db.Close()
			err = db.Ping(ctx)
		}
		report("warehouse connection", err)

		wrike := source.NewWrike("", cfg.WrikeToken, nil, cfg.NewLogger("[wrike] "))
		report("wrike api", wrike.Ping(ctx))

		space, err := wrike.FindSpace(ctx, cfg.SpaceTitle)
		if err == nil {
			report(fmt.Sprintf("wrike space %q (%s)", cfg.SpaceTitle, space.ID), nil)
		} else {
			report(fmt.Sprintf("wrike space %q", cfg.SpaceTitle), err)
		}

		hubspot := source.NewHubSpot("", cfg.HubSpotToken, nil, cfg.NewLogger("[hubspot] "))
		report("hubspot api", hubspot.Ping(ctx))

		if failures > 0 {
			fatalf("%d check(s) failed", failures)
		}
		fmt.Printf("%s All checks passed\n", ui.RenderPass("✓"))
	},
}
