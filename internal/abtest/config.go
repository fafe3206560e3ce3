package abtest

import "time"

// Config holds engine tunables. Zero values are filled in by withDefaults,
// so callers only set what they care about.
type Config struct {
	// AssignmentKey is the purpose segment of the versioned storage key the
	// assignment map is persisted under.
	AssignmentKey string `yaml:"assignment_key"`
	// AssignmentExpiry bounds how long persisted assignments are honored.
	AssignmentExpiry time.Duration `yaml:"assignment_expiry"`

	MinSampleSize   int     `yaml:"min_sample_size"`
	ConfidenceLevel float64 `yaml:"confidence_level"`

	// Analytics batching.
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// QueueLimit bounds the analytics queue under sustained delivery
	// failure; oldest events are dropped past it.
	QueueLimit int `yaml:"queue_limit"`

	FlagPollInterval time.Duration `yaml:"flag_poll_interval"`

	// MetricsSnapshotDelay is the debounce quiet period for the local
	// metrics snapshot write.
	MetricsSnapshotDelay time.Duration `yaml:"metrics_snapshot_delay"`

	// DisableRemoteConfig runs the engine fully local, ignoring any injected
	// Source. Disable flags rather than enable flags so the zero Config keeps
	// the documented defaults.
	DisableRemoteConfig bool `yaml:"disable_remote_config"`
	// DisableAnalytics drops queued events instead of delivering them.
	DisableAnalytics bool `yaml:"disable_analytics"`
}

// DefaultConfig mirrors the marketplace frontend defaults: 90-day sticky
// assignments, 100-sample significance floor, 10-event/5-second analytics
// batches, 30-second flag polling.
func DefaultConfig() Config {
	return Config{
		AssignmentKey:        "ab_experiments",
		AssignmentExpiry:     90 * 24 * time.Hour,
		MinSampleSize:        100,
		ConfidenceLevel:      0.95,
		BatchSize:            10,
		FlushInterval:        5 * time.Second,
		QueueLimit:           1000,
		FlagPollInterval:     30 * time.Second,
		MetricsSnapshotDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AssignmentKey == "" {
		c.AssignmentKey = def.AssignmentKey
	}
	if c.AssignmentExpiry <= 0 {
		c.AssignmentExpiry = def.AssignmentExpiry
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = def.MinSampleSize
	}
	if c.ConfidenceLevel <= 0 {
		c.ConfidenceLevel = def.ConfidenceLevel
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = def.QueueLimit
	}
	if c.FlagPollInterval <= 0 {
		c.FlagPollInterval = def.FlagPollInterval
	}
	if c.MetricsSnapshotDelay <= 0 {
		c.MetricsSnapshotDelay = def.MetricsSnapshotDelay
	}
	return c
}
