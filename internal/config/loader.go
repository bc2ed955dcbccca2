package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/podsync/syncd/internal/database"
	"github.com/podsync/syncd/internal/dispatcher"
)

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point for configuration
// loading.
//
// Steps performed:
//  1. Load .env (if present) into the process environment
//  2. Read syncd.yaml from configDir, expanding ${VAR} references
//  3. Merge the parsed YAML over the built-in defaults
//  4. Load database credentials from the environment
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.InfoContext(ctx, "initializing configuration")

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.InfoContext(ctx, "configuration initialized",
		"dispatcher_max_retries", stats.DispatcherMaxRetries,
		"projection_batch_size", stats.ProjectionBatchSize,
		"compaction_interval", stats.CompactionInterval,
		"retention_prune_after", stats.RetentionPruneAfter)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := Defaults()

	yamlCfg, err := loadYAML(filepath.Join(configDir, "syncd.yaml"))
	if err != nil {
		return nil, NewLoadError("syncd.yaml", err)
	}

	if err := mergeYAML(&cfg, yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to merge syncd.yaml: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	cfg.Database = dbCfg

	return &cfg, nil
}

// loadYAML reads and parses the config file. A missing file is not an
// error: a deployment running entirely off built-in defaults and
// environment variables is valid.
func loadYAML(path string) (*syncdYAMLConfig, error) {
	var parsed syncdYAMLConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &parsed, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &parsed, nil
}

// mergeYAML overlays non-zero YAML-provided values onto the defaults
// already populated in cfg.
func mergeYAML(cfg *Config, yamlCfg *syncdYAMLConfig) error {
	if yamlCfg.Retention != nil {
		overlay := RetentionConfig{
			CheckpointAfter: time.Duration(yamlCfg.Retention.CheckpointDays) * 24 * time.Hour,
			PruneAfter:      time.Duration(yamlCfg.Retention.PruneDays) * 24 * time.Hour,
		}
		if err := mergo.Merge(&cfg.Retention, overlay, mergo.WithOverride); err != nil {
			return fmt.Errorf("retention: %w", err)
		}
	}

	if yamlCfg.Dispatcher != nil {
		idleTTL, err := parseDurationField(yamlCfg.Dispatcher.ActorIdleTTL, "dispatcher.actor_idle_ttl")
		if err != nil {
			return err
		}
		overlay := dispatcherOverlay(yamlCfg.Dispatcher, idleTTL)
		if err := mergo.Merge(&cfg.Dispatcher, overlay, mergo.WithOverride); err != nil {
			return fmt.Errorf("dispatcher: %w", err)
		}
	}

	if yamlCfg.Projection != nil {
		pollEvery, err := parseDurationField(yamlCfg.Projection.PollEvery, "projection.poll_every")
		if err != nil {
			return err
		}
		overlay := ProjectionConfig{
			BatchSize:  yamlCfg.Projection.BatchSize,
			MaxRetries: yamlCfg.Projection.MaxRetries,
			PollEvery:  pollEvery,
		}
		if err := mergo.Merge(&cfg.Projection, overlay, mergo.WithOverride); err != nil {
			return fmt.Errorf("projection: %w", err)
		}
	}

	if yamlCfg.Compaction != nil {
		interval, err := parseDurationField(yamlCfg.Compaction.Interval, "compaction.interval")
		if err != nil {
			return err
		}
		overlay := CompactionConfig{Interval: interval}
		if err := mergo.Merge(&cfg.Compaction, overlay, mergo.WithOverride); err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
	}

	if yamlCfg.Server != nil && yamlCfg.Server.Addr != "" {
		cfg.Server.Addr = yamlCfg.Server.Addr
	}

	return nil
}

func dispatcherOverlay(d *dispatcherYAML, idleTTL time.Duration) dispatcher.Config {
	return dispatcher.Config{
		MaxRetries:      d.MaxRetries,
		DefaultDeadline: time.Duration(d.DefaultDeadlineMs) * time.Millisecond,
		ActorIdleTTL:    idleTTL,
	}
}

func parseDurationField(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err)
	}
	return d, nil
}
