// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"

	"github.com/lotkeeper/lotkeeper/internal/config"
)

var (
	cfg        config.Config
	configPath string // Path to the configuration file
)

var rootCmd = &cobra.Command{
	Use:   "lotkeeper",
	Short: "LotKeeper is the configuration backend for parking lot operations",
	Long: `LotKeeper serves the parking operations settings engine: typed
configuration values at system, location and user scope, resolved through
the inheritance chain and kept consistent across all connected clients.`,
	Args: cobra.OnlyValidArgs,
}

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the etc/ configuration directory")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
