package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Memory(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("LOCK_WAIT", "500ms")
	t.Setenv("SETTINGS_REFRESH", "60")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)
	assert.Equal(t, time.Minute, cfg.SettingsRefresh)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE", "memory")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}

func TestGetDurationAndInt(t *testing.T) {
	t.Setenv("X_DUR", "bogus")
	assert.Equal(t, time.Second, getDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "2m")
	assert.Equal(t, 2*time.Minute, getDuration("X_DUR", time.Second))

	t.Setenv("X_INT", "nope")
	assert.Equal(t, 7, getInt("X_INT", 7))
	t.Setenv("X_INT", "3")
	assert.Equal(t, 3, getInt("X_INT", 7))
}
