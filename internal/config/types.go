package config

import "encoding/json"

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Executor ExecutorConfig `json:"executor"`
	Retry    RetryConfig    `json:"retry"`

	// Scheduler declares recurring task submissions (cron/interval/daily).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Sink controls the external event delivery pipeline. Nil means
	// runtime defaults with delivery disabled.
	Sink *SinkConfig `json:"sink,omitempty"`

	// Storage controls the optional persistence layer. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ExecutorConfig controls the task executor.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 4
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type ExecutorConfig struct {
	Concurrency int `json:"concurrency,omitempty"`

	// DefaultTimeout applies to items without an explicit timeout.
	// Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// RetryConfig controls the retry manager's backoff policy.
//
// Defaults: max_attempts 3, base_delay "500ms", max_delay "15s".
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
	MinDelay    string `json:"min_delay,omitempty"`

	// JitterFactor adds uniform jitter in [0, factor*delay).
	JitterFactor float64 `json:"jitter_factor,omitempty"`
}

// SchedulerConfig declares recurring submissions.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`
}

// JobConfig is one recurring submission.
//
// Schedule accepts "cron:<expr>", "interval:<duration>" (alias "every:"),
// a bare Go duration, or a daily "HH:MM" time.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Kind selects the handling strategy; Payload is passed through.
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
	NoRetry  bool   `json:"no_retry,omitempty"`
}

// SinkConfig controls the event delivery pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// delivery stays disabled.
type SinkConfig struct {
	Enabled         bool   `json:"enabled"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./taskforge_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
