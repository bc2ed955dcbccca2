package config

import (
	"time"

	"github.com/podsync/syncd/internal/database"
	"github.com/podsync/syncd/internal/dispatcher"
)

// Defaults returns the built-in configuration, used as the merge base for
// whatever the user's YAML file overrides.
func Defaults() Config {
	return Config{
		Database: database.Config{
			Host:            "localhost",
			Port:            5432,
			User:            "syncd",
			Password:        "syncd",
			Database:        "syncd",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Dispatcher: dispatcher.DefaultConfig(),
		Retention: RetentionConfig{
			CheckpointAfter: 45 * 24 * time.Hour,
			PruneAfter:      31 * 24 * time.Hour,
		},
		Projection: ProjectionConfig{
			BatchSize:  200,
			MaxRetries: 5,
			PollEvery:  2 * time.Second,
		},
		Compaction: CompactionConfig{
			Interval: 15 * time.Minute,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
