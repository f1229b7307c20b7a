package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/seo-auditor/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Applies or rolls back the Postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pgstore.DirectionUp, pgstore.DirectionDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Config.DB.DSN == "" {
				return errors.New("db.dsn (or DATABASE_URL) is required to migrate")
			}
			direction := pgstore.DirectionUp
			if len(args) == 1 {
				direction = args[0]
			}
			if err := pgstore.Migrate(rt.Config.DB.DSN, direction, rt.Logger); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			return nil
		},
	}
}
