package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/potluck-hub/potluck-hub/internal/api/http"
	appAuth "github.com/potluck-hub/potluck-hub/internal/application/auth"
	"github.com/potluck-hub/potluck-hub/internal/application/csrf"
	appSession "github.com/potluck-hub/potluck-hub/internal/application/session"
	"github.com/potluck-hub/potluck-hub/internal/domain/principal"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/postgres"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/telemetry"
)

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
}

func runServe(ctx context.Context, c *cli) error {
	cfg, logger := c.cfg, c.logger

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.pool != nil {
		if err := postgres.Migrate(ctx, a.pool); err != nil {
			return err
		}
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}
	state := csrf.NewManager(csrf.Config{TTL: cfg.StateCookieTTL})
	authSvc := appAuth.NewService(providers, state, a.users, a.sessions, appAuth.Config{
		SessionCookieName: cfg.SessionCookieName,
		Policy:            principal.Policy{LegacyAdminEmailMatch: cfg.LegacyAdminMatch},
		Metrics:           a.metrics,
	}, logger)
	if cfg.LegacyAdminMatch {
		logger.Warn().Msg("legacy admin email matching is enabled")
	}

	apiServer := httpapi.NewServer(authSvc, state, httpapi.Options{
		SessionCookieSecure: cfg.SessionCookieSecure,
		PostLoginRedirect:   cfg.PostLoginRedirect,
		LoginRateLimit:      cfg.LoginRateLimit,
		Metrics:             a.metrics,
		HealthCheck:         a.Ping,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go appSession.NewSweeper(a.sessions, cfg.SessionSweepInterval, logger).Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.SessionStore).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctxShutdown)
}
