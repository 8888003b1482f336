package main

import (
	"card-key-shop/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := database.Migrate(a.db); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
}
