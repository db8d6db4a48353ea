package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	ServerAddr  string `env:"SERVER_ADDR,default=0.0.0.0:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	Postgres    PostgresConfig

	SessionStore string `env:"SESSION_STORE,default=postgres"`
	Redis        RedisConfig

	SessionTTL           time.Duration `env:"SESSION_TTL,default=24h"`
	SessionMaxPerUser    int           `env:"SESSION_MAX_PER_USER,default=5"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL,default=10m"`
	SessionCookieName    string        `env:"SESSION_COOKIE_NAME,default=potluck_session"`
	SessionCookieSecure  bool          `env:"SESSION_COOKIE_SECURE,default=false"`
	StateCookieTTL       time.Duration `env:"STATE_COOKIE_TTL,default=10m"`

	OAuthHTTPTimeout  time.Duration `env:"OAUTH_HTTP_TIMEOUT,default=10s"`
	PostLoginRedirect string        `env:"POST_LOGIN_REDIRECT,default=/"`
	NewUserHostStatus string        `env:"NEW_USER_HOST_STATUS,default=approved"`
	LegacyAdminMatch  bool          `env:"AUTH_LEGACY_ADMIN_EMAIL_MATCH,default=false"`
	LoginRateLimit    int           `env:"LOGIN_RATE_LIMIT,default=20"`

	Google OAuthClient `env:", prefix=GOOGLE_"`
	Apple  OAuthClient `env:", prefix=APPLE_"`

	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogFormat    string `env:"LOG_FORMAT,default=json"`
}

// PostgresConfig is used to build a DSN when DATABASE_URL is unset.
type PostgresConfig struct {
	User     string `env:"POSTGRES_USER,default=potluck"`
	Password string `env:"POSTGRES_PASSWORD,default=potluck_pass"`
	DB       string `env:"POSTGRES_DB,default=potluck"`
	Host     string `env:"POSTGRES_HOST,default=localhost"`
	Port     string `env:"POSTGRES_PORT,default=5432"`
	SSLMode  string `env:"DATABASE_SSLMODE,default=disable"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// OAuthClient holds one provider's client registration. Empty ClientID disables it.
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether the provider is configured.
func (c OAuthClient) Enabled() bool {
	return c.ClientID != ""
}

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		p := cfg.Postgres
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.SessionStore {
	case StorePostgres, StoreRedis, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be postgres, redis or memory, got %q", c.SessionStore))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.SessionMaxPerUser < 1 {
		errs = append(errs, errors.New("SESSION_MAX_PER_USER must be at least 1"))
	}
	if c.StateCookieTTL <= 0 {
		errs = append(errs, errors.New("STATE_COOKIE_TTL must be positive"))
	}
	switch c.NewUserHostStatus {
	case "pending", "approved", "rejected":
	default:
		errs = append(errs, fmt.Errorf("NEW_USER_HOST_STATUS must be pending, approved or rejected, got %q", c.NewUserHostStatus))
	}
	if c.Google.Enabled() && c.Google.RedirectURL == "" {
		errs = append(errs, errors.New("GOOGLE_REDIRECT_URL is required when GOOGLE_CLIENT_ID is set"))
	}
	if c.Apple.Enabled() && c.Apple.RedirectURL == "" {
		errs = append(errs, errors.New("APPLE_REDIRECT_URL is required when APPLE_CLIENT_ID is set"))
	}
	return errors.Join(errs...)
}
