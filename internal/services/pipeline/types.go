package pipeline

import (
	"errors"
	"time"
)

var (
	ErrNotStarted = errors.New("pipeline not started")
	ErrQueueFull  = errors.New("pipeline queue full")
	ErrEmptyID    = errors.New("task id is empty")
)

// Config controls the pipeline service.
//
// Defaults (zero fields): workers 4, queue_size 256.
type Config struct {
	// Workers is the number of submission workers. Each worker runs one
	// item at a time, so this also bounds effective execution concurrency.
	Workers int

	QueueSize int

	// MaxQueueDelay drops submissions queued longer than this. Zero
	// disables stale dropping.
	MaxQueueDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Submission asks the pipeline to run one task.
type Submission struct {
	TaskID  string
	Kind    string
	Payload map[string]any

	// Per-item overrides. Zero values fall back to component defaults.
	Timeout    time.Duration
	RetryLimit int
	NoRetry    bool
}

// Stats summarizes the pipeline for monitoring surfaces.
type Stats struct {
	Queued    int    `json:"queued"`
	QueueCap  int    `json:"queue_cap"`
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Dropped   uint64 `json:"dropped"`
	Unmatched uint64 `json:"unmatched"`
}
