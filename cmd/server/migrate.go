package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/formsync/internal/logging"
	"github.com/Tyrowin/formsync/internal/store"
)

func migrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Create the forms, fields, and responses tables in the configured database.
The server also migrates on start; this command prepares a database ahead of time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			st, err := store.Open(cmd.Context(), storeConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}
			logger.Info("schema migrated", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
