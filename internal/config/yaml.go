package config

// syncdYAMLConfig mirrors the on-disk syncd.yaml shape. Only the sections
// that aren't already fully determined by environment variables (database
// credentials in particular) live here.
type syncdYAMLConfig struct {
	Retention  *retentionYAML  `yaml:"retention"`
	Dispatcher *dispatcherYAML `yaml:"dispatcher"`
	Projection *projectionYAML `yaml:"projection"`
	Compaction *compactionYAML `yaml:"compaction"`
	Server     *serverYAML     `yaml:"server"`
}

type retentionYAML struct {
	CheckpointDays int `yaml:"checkpoint_days"`
	PruneDays      int `yaml:"prune_days"`
}

type dispatcherYAML struct {
	MaxRetries       int    `yaml:"max_retries"`
	DefaultDeadlineMs int   `yaml:"default_deadline_ms"`
	ActorIdleTTL     string `yaml:"actor_idle_ttl"`
}

type projectionYAML struct {
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
	PollEvery  string `yaml:"poll_every"`
}

type compactionYAML struct {
	Interval string `yaml:"interval"`
}

type serverYAML struct {
	Addr string `yaml:"addr"`
}
