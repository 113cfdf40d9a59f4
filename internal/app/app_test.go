package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/therapy-scheduling/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Store:           config.StoreMemory,
		TimeZone:        "UTC",
		LockTTL:         time.Second,
		LockWait:        time.Second,
		SettingsRefresh: time.Minute,
		SweepEvery:      3,
		ExpiryQueueKey:  "test:expiry",
		EventsChannel:   "test.events",
	}
}

func TestNew_MemoryWithoutRedis(t *testing.T) {
	rt, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.Service)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.Expiry)
	assert.Empty(t, rt.Deps)
	assert.NotNil(t, rt.ExpiryRunner())

	n, err := rt.Service.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	rt, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NotNil(t, rt.Redis)
	require.NotNil(t, rt.Expiry)
	require.Len(t, rt.Deps, 1)
	assert.Equal(t, "redis", rt.Deps[0].Name)
	assert.False(t, rt.Deps[0].Critical)
	assert.NoError(t, rt.Deps[0].Check(context.Background()))

	rt.Close()
	assert.Error(t, rt.Redis.Ping(context.Background()).Err(), "closed on shutdown")
}
