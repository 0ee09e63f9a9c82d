package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lotkeeper/lotkeeper/internal/config"
	"github.com/lotkeeper/lotkeeper/internal/daemon"
	"github.com/lotkeeper/lotkeeper/internal/logger"
)

func init() { //nolint: gochecknoinits
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be seeded without writing")

	rootCmd.AddCommand(migrateCmd)
}

var (
	dryRun bool

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Seed the compiled-in setting catalog into an existing schema",
		PreRun: func(_ *cobra.Command, _ []string) {
			if cfg, err = config.ReadConfig(configPath); err != nil {
				panic(err)
			}

			if err = logger.Init(cfg.Log); err != nil {
				panic(err)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := daemon.Migrate(context.Background(), &cfg, dryRun)
			if err != nil {
				return err
			}

			log.Info().
				Bool("dry_run", report.DryRun).
				Strs("seeded_settings", report.SeededSettings).
				Strs("seeded_templates", report.SeededTemplates).
				Msg("Migration finished")

			return nil
		},
	}
)
