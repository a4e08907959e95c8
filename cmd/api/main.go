package main

import (
	"fmt"
	"os"

	"questionbank_go_backend/cmd/api/config"
	"questionbank_go_backend/internal/database"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	serve := newServeCommand(cfg)
	root := &cobra.Command{
		Use:          "questionbank-api",
		Short:        "Question bank AI analysis and billing API.",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, newMigrateCommand(cfg), newQuoteCommand(cfg))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(cfg.DB)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info().Msg("database migrated")
			return nil
		},
	}
}
