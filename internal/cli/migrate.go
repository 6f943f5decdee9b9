package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nekogravitycat/event-booking-backend/internal/config"
	"github.com/nekogravitycat/event-booking-backend/internal/db"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.DriverPostgres)
			}

			pool, err := db.NewPool(cmd.Context(), cfg.DBDSN, cfg.Pool())
			if err != nil {
				return fmt.Errorf("failed to connect to db: %w", err)
			}
			defer pool.Close()

			return db.Migrate(cmd.Context(), pool, args[0])
		},
	}
}
