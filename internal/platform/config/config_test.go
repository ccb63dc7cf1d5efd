package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"MODERATION_ADDR", "DATABASE_URL", "KAFKA_BROKERS", "BULK_CONCURRENCY", "REQUIRE_REJECTION_REASON", "LOG_LEVEL", "JWT_ISSUER"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.JWTIssuer)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Moderation.BulkConcurrency)
	assert.Equal(t, 500, cfg.Moderation.BulkMaxSize)
	assert.False(t, cfg.Moderation.RequireRejectionReason)
	assert.Equal(t, "@every 5m", cfg.Moderation.ReconcileSchedule)
	assert.Equal(t, 2*time.Second, cfg.Moderation.PushTimeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODERATION_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("REQUIRE_REJECTION_REASON", "true")
	t.Setenv("BULK_CONCURRENCY", "3")
	t.Setenv("PUSH_TIMEOUT", "750ms")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Moderation.RequireRejectionReason)
	assert.Equal(t, 3, cfg.Moderation.BulkConcurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.Moderation.PushTimeout)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("PUSH_TIMEOUT", "soon")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "PUSH_TIMEOUT")
	})
	t.Run("non-positive bulk concurrency", func(t *testing.T) {
		t.Setenv("BULK_CONCURRENCY", "0")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "BULK_CONCURRENCY")
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MODERATION_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MODERATION_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("MODERATION_TEST_DOTENV"))
}
