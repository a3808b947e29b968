package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive credential setup",
	Long: `Prompt for API tokens and warehouse credentials and write them to a
.env file in the current directory. Existing files are not overwritten
unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		const envPath = ".env"
		if !initForce {
			if _, err := os.Stat(envPath); err == nil {
				fatalf("%s already exists (use --force to overwrite)", envPath)
			}
		}

		var (
			wrikeToken   string
			hubspotToken string
			neonHost     string
			neonPort     = "5432"
			neonDatabase string
			neonUser     string
			neonPassword string
			space        = "Production"
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Wrike API token").
					Description("Permanent access token from Wrike apps & integrations").
					EchoMode(huh.EchoModePassword).
					Value(&wrikeToken),
				huh.NewInput().
					Title("HubSpot API token").
					Description("Private app access token").
					EchoMode(huh.EchoModePassword).
					Value(&hubspotToken),
			),
			huh.NewGroup(
				huh.NewInput().Title("Neon host").Placeholder("ep-xxx.us-east-2.aws.neon.tech").Value(&neonHost),
				huh.NewInput().Title("Neon port").Value(&neonPort),
				huh.NewInput().Title("Neon database").Value(&neonDatabase),
				huh.NewInput().Title("Neon user").Value(&neonUser),
				huh.NewInput().Title("Neon password").EchoMode(huh.EchoModePassword).Value(&neonPassword),
			),
			huh.NewGroup(
				huh.NewInput().Title("Wrike space").Description("Space holding the project hierarchy").Value(&space),
			),
		)
		if err := form.Run(); err != nil {
			fatalf("%v", err)
		}

		var b strings.Builder
		write := func(key, value string) {
			fmt.Fprintf(&b, "%s=%s\n", key, value)
		}
		write("WRIKE_API_TOKEN", wrikeToken)
		write("HUBSPOT_API_TOKEN", hubspotToken)
		write("NEON_HOST", neonHost)
		write("NEON_PORT", neonPort)
		write("NEON_DATABASE", neonDatabase)
		write("NEON_USER", neonUser)
		write("NEON_PASSWORD", neonPassword)
		write("WRIKE_SPACE", space)

		// Credentials inside; owner-only.
		if err := os.WriteFile(envPath, []byte(b.String()), 0o600); err != nil {
			fatalf("writing %s: %v", envPath, err)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), envPath)
		fmt.Printf("   %s\n", ui.RenderDim("export the variables (or use direnv) and run 'wrsync check'"))
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing .env")
}
