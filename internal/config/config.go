// Package config loads syncd's YAML configuration file, expanding ${VAR}
// references against the environment and merging user-supplied values over
// built-in defaults.
package config

import (
	"time"

	"github.com/podsync/syncd/internal/database"
	"github.com/podsync/syncd/internal/dispatcher"
)

// Config is the fully resolved, ready-to-use configuration.
type Config struct {
	Database   database.Config
	Dispatcher dispatcher.Config
	Retention  RetentionConfig
	Projection ProjectionConfig
	Compaction CompactionConfig
	Server     ServerConfig
}

// RetentionConfig bounds how long the compaction worker (C7) keeps
// checkpointed history before pruning the underlying event stream.
type RetentionConfig struct {
	CheckpointAfter time.Duration
	PruneAfter      time.Duration
}

// ProjectionConfig tunes the read-model pipeline (C5).
type ProjectionConfig struct {
	BatchSize  int
	MaxRetries int
	PollEvery  time.Duration
}

// CompactionConfig tunes the periodic checkpoint/prune worker (C7).
type CompactionConfig struct {
	Interval time.Duration
}

// ServerConfig holds the HTTP listen address for the thin ops surface.
type ServerConfig struct {
	Addr string
}

// Stats summarizes resolved configuration for startup logging.
type Stats struct {
	DispatcherMaxRetries int
	ProjectionBatchSize  int
	CompactionInterval   time.Duration
	RetentionPruneAfter  time.Duration
}

// Stats returns a summary suitable for a single startup log line.
func (c *Config) Stats() Stats {
	return Stats{
		DispatcherMaxRetries: c.Dispatcher.MaxRetries,
		ProjectionBatchSize:  c.Projection.BatchSize,
		CompactionInterval:   c.Compaction.Interval,
		RetentionPruneAfter:  c.Retention.PruneAfter,
	}
}
