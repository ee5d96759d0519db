package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func Test_Load(t *testing.T) {
	unsetEnv(t, "ADDR", "DB_MAX_CONNS", "REDIS_ADDR", "USER_CACHE_TTL", "LOG_LEVEL")

	t.Run("should apply defaults", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("DB_DSN", "postgres://localhost/chat")
		t.Setenv("JWT_SECRET", "s3cret")

		cfg, err := Load()
		req.NoError(err)
		req.Equal(":8080", cfg.Addr)
		req.Equal(25, cfg.DBMaxConns)
		req.Equal("localhost:6379", cfg.RedisAddr)
		req.Equal(5*time.Minute, cfg.UserCacheTTL)
		req.Equal("info", cfg.LogLevel)
	})

	t.Run("should read overrides", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("DB_DSN", "postgres://localhost/chat")
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DB_MAX_CONNS", "7")
		t.Setenv("USER_CACHE_TTL", "30s")

		cfg, err := Load()
		req.NoError(err)
		req.Equal(7, cfg.DBMaxConns)
		req.Equal(30*time.Second, cfg.UserCacheTTL)
	})

	t.Run("should require the database and signing secret", func(t *testing.T) {
		unsetEnv(t, "DB_DSN", "JWT_SECRET")

		_, err := Load()
		require.Error(t, err)
	})
}

func Test_NewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger("loud")
	require.Error(t, err)
}
