package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// api is the HTTP API client, initialized in PersistentPreRun.
	api *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the HTTP API.
	serverAddr string
)

// rootCmd is the top-level cobra command for radarctl.
var rootCmd = &cobra.Command{
	Use:   "radarctl",
	Short: "CLI client for the PICORadar daemon",
	Long:  "radarctl talks to the picoradar daemon over its HTTP API to inspect players and service health.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		api = newAPIClient(serverAddr)
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:11451",
		"picoradar daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(playersCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
