package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/potluck-hub/potluck-hub/internal/config"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/postgres"
)

func migrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.SessionStore == config.StoreMemory {
				return errors.New("migrate needs a postgres database; SESSION_STORE is memory")
			}
			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			version, err := postgres.MigrationVersion(ctx, pool)
			if err != nil {
				return err
			}
			c.logger.Info().Int64("version", version).Msg("migrations applied")
			return nil
		},
	}
}

func sweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.sessions.SweepExpired(ctx)
			if err != nil {
				return err
			}
			c.logger.Info().Int("removed", n).Msg("expired sessions swept")
			return nil
		},
	}
}
