package config

import "fmt"

// validate performs basic sanity checks on the fully merged configuration.
func validate(cfg *Config) error {
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if cfg.Dispatcher.MaxRetries <= 0 {
		return fmt.Errorf("%w: dispatcher.max_retries must be positive", ErrInvalidValue)
	}
	if cfg.Dispatcher.DefaultDeadline <= 0 {
		return fmt.Errorf("%w: dispatcher.default_deadline_ms must be positive", ErrInvalidValue)
	}
	if cfg.Projection.BatchSize <= 0 {
		return fmt.Errorf("%w: projection.batch_size must be positive", ErrInvalidValue)
	}
	if cfg.Compaction.Interval <= 0 {
		return fmt.Errorf("%w: compaction.interval must be positive", ErrInvalidValue)
	}
	if cfg.Retention.PruneAfter > cfg.Retention.CheckpointAfter {
		return fmt.Errorf("%w: retention.prune_days must not be longer than checkpoint_days", ErrInvalidValue)
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr must not be empty", ErrInvalidValue)
	}
	return nil
}
