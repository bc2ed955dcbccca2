package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/config"
)

func withEnv(t *testing.T, key, val string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, val))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestInitializeAppliesDefaultsWithoutYAMLFile(t *testing.T) {
	withEnv(t, "DB_PASSWORD", "secret")

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 200, cfg.Projection.BatchSize)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestInitializeMergesYAMLOverrides(t *testing.T) {
	withEnv(t, "DB_PASSWORD", "secret")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "syncd.yaml"), []byte(`
retention:
  checkpoint_days: 45
  prune_days: 31
dispatcher:
  max_retries: 7
  default_deadline_ms: 9000
  actor_idle_ttl: 2m
projection:
  batch_size: 50
  max_retries: 5
compaction:
  interval: 30m
`), 0o644))

	cfg, err := config.Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 50, cfg.Projection.BatchSize)
	assert.Equal(t, int64(45*24*3600), int64(cfg.Retention.CheckpointAfter.Seconds()))
}

func TestInitializeRejectsMissingDatabasePassword(t *testing.T) {
	prev, had := os.LookupEnv("DB_PASSWORD")
	_ = os.Unsetenv("DB_PASSWORD")
	t.Cleanup(func() {
		if had {
			_ = os.Setenv("DB_PASSWORD", prev)
		}
	})

	_, err := config.Initialize(context.Background(), t.TempDir())
	assert.Error(t, err)
}
