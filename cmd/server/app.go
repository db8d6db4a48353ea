package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/potluck-hub/potluck-hub/internal/application/oauth"
	appSession "github.com/potluck-hub/potluck-hub/internal/application/session"
	appUser "github.com/potluck-hub/potluck-hub/internal/application/user"
	"github.com/potluck-hub/potluck-hub/internal/config"
	domainSession "github.com/potluck-hub/potluck-hub/internal/domain/session"
	domainUser "github.com/potluck-hub/potluck-hub/internal/domain/user"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/memory"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/metrics"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/nats"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/postgres"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/redis"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/telemetry"
)

// app is the wired storage and service graph shared by the subcommands.
type app struct {
	pool     *pgxpool.Pool
	redis    *goredis.Client
	metrics  *metrics.Metrics
	users    *appUser.Service
	sessions *appSession.Service
	closers  []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	var (
		userRepo    domainUser.Repository
		sessionRepo domainSession.Repository
	)
	switch cfg.SessionStore {
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory storage; sessions and users are lost on restart")
		userRepo = memory.NewUserRepository()
		sessionRepo = memory.NewSessionRepository()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		userRepo = postgres.NewUserRepository(pool)
		sessionRepo = postgres.NewSessionRepository(pool)

		if cfg.SessionStore == config.StoreRedis {
			client, err := redis.NewClient(ctx, redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.redis = client
			a.closers = append(a.closers, func() { _ = client.Close() })
			sessionRepo = redis.NewSessionRepository(client)
		}
	}

	opts := []appSession.Option{
		appSession.WithTTL(cfg.SessionTTL),
		appSession.WithMaxPerUser(cfg.SessionMaxPerUser),
		appSession.WithMetrics(a.metrics),
	}
	if cfg.NATSURL != "" {
		pub, err := nats.Connect(cfg.NATSURL, natsgo.Name(serviceName))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, appSession.WithPublisher(pub))
		logger.Info().Str("stream", nats.StreamName).Msg("publishing session events")
	}

	a.users = appUser.NewService(userRepo, domainUser.HostStatus(cfg.NewUserHostStatus), logger)
	a.sessions = appSession.NewService(sessionRepo, logger, opts...)
	return a, nil
}

// Ping checks every backing store.
func (a *app) Ping(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Ping(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Ping(ctx).Err())
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildProviders registers every configured provider. Discovery runs once here;
// the background context is kept by the OIDC key set for later key refreshes.
func buildProviders(cfg *config.Config, logger zerolog.Logger) (*oauth.Registry, error) {
	client := telemetry.HTTPClient(cfg.OAuthHTTPTimeout)
	var list []oauth.Provider

	if cfg.Google.Enabled() {
		p, err := oauth.NewProvider(context.Background(),
			oauth.GoogleConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL), client)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		list = append(list, p)
	}
	if cfg.Apple.Enabled() {
		p, err := oauth.NewProvider(context.Background(),
			oauth.AppleConfig(cfg.Apple.ClientID, cfg.Apple.ClientSecret, cfg.Apple.RedirectURL), client)
		if err != nil {
			return nil, fmt.Errorf("apple provider: %w", err)
		}
		list = append(list, p)
	}

	reg := oauth.NewRegistry(list...)
	if len(list) == 0 {
		logger.Warn().Msg("no OAuth providers configured; logins will fail")
	} else {
		logger.Info().Strs("providers", reg.Names()).Msg("OAuth providers ready")
	}
	return reg, nil
}
