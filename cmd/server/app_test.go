package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appSession "github.com/potluck-hub/potluck-hub/internal/application/session"
	"github.com/potluck-hub/potluck-hub/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		SessionStore:      config.StoreMemory,
		SessionTTL:        time.Hour,
		SessionMaxPerUser: 2,
		NewUserHostStatus: "pending",
		OAuthHTTPTimeout:  time.Second,
	}
}

func TestBuildAppWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Ping(ctx))
	assert.Equal(t, time.Hour, a.sessions.TTL())

	u, created, err := a.users.GetOrCreateByEmail(ctx, "a@x.com", "A")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "pending", string(u.HostStatus))

	for i := 0; i < 3; i++ {
		_, _, err := a.sessions.Create(ctx, appSession.CreateInput{UserID: u.UserID, Provider: "google"})
		require.NoError(t, err)
	}
	list, err := a.sessions.ListForUser(ctx, u.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	none, err := a.sessions.ListForUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBuildProvidersWithNoneConfigured(t *testing.T) {
	reg, err := buildProviders(memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := memoryConfig()
	cfg.LogLevel = "WARN"
	assert.Equal(t, zerolog.WarnLevel, newLogger(cfg).GetLevel())

	cfg.LogLevel = "bogus"
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())
}
