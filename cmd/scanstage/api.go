package main

import (
	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running scanstage server via HTTP.

These commands require a running server (scanstage serve).
Use --server to specify a custom server URL.

Examples:
  scanstage api health                  # Check server health
  scanstage api bundles list            # List all bundles
  scanstage api bundles upload <pdf>    # Upload a bundle`,
}

var bundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "Bundle management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8415", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Bundles as subcommand group
	bundlesCmd.AddCommand((&endpoints.UploadBundleEndpoint{}).Command(getServerURL))
	bundlesCmd.AddCommand((&endpoints.ListBundlesEndpoint{}).Command(getServerURL))
	bundlesCmd.AddCommand((&endpoints.GetBundleEndpoint{}).Command(getServerURL))
	bundlesCmd.AddCommand((&endpoints.DeleteBundleEndpoint{}).Command(getServerURL))
	bundlesCmd.AddCommand((&endpoints.MapPageEndpoint{}).Command(getServerURL))
	bundlesCmd.AddCommand((&endpoints.PushBundleEndpoint{}).Command(getServerURL))

	// Chores at top level of api
	apiCmd.AddCommand((&endpoints.ListChoresEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.GetChoreEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(bundlesCmd)
	rootCmd.AddCommand(apiCmd)
}
