// Package cmd implements the vpanelctl admin CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vpanel/core/internal/ctl/client"
	"github.com/vpanel/core/pkg/logger"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "vpanelctl",
	Short: "Admin CLI for the vpanel management service",
	Long: `vpanelctl manages VPN nodes through the vpanel API:
deploy new servers, watch deployment progress, and list the fleet.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Base URL of the vpanel API")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serversCmd)
}

// newClient builds an API client with a quiet logger; CLI output goes to
// stdout, not the log
func newClient() *client.Client {
	log := logger.New(logger.LoggerConfig{
		Level:     logger.LevelError,
		Format:    logger.FormatText,
		Component: "vpanelctl",
		Version:   "1.0.0",
	})
	return client.NewClient(apiURL, log)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
