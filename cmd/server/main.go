package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/potluck-hub/potluck-hub/internal/config"
)

const serviceName = "potluck-auth"

// cli carries what every subcommand needs once the root has loaded it.
type cli struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Session and sign-in service for potluck events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			c.cfg = cfg
			c.logger = newLogger(cfg)
			return nil
		},
	}
	rootCmd.AddCommand(
		serveCmd(c),
		migrateCmd(c),
		sweepCmd(c),
	)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("app", serviceName).Logger()
}
