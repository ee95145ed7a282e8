package executor

import (
	"context"
	"time"
)

// Status is the lifecycle state of a work item.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Config controls the executor.
type Config struct {
	// Concurrency is the advisory capacity limit. The executor never blocks
	// Execute() when over capacity; callers gate submissions via HasCapacity.
	Concurrency int

	// DefaultTimeout applies when a work item carries no timeout override.
	// Zero disables the default.
	DefaultTimeout time.Duration

	// HistorySize caps each of the completed and failed tables
	// (oldest records evicted first).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// WorkItem is a unit of schedulable, asynchronous work.
//
// The submitting caller owns the item; the executor references it only for
// the duration of Execute.
type WorkItem struct {
	ID  string
	Run func(ctx context.Context) (any, error)

	// Per-item overrides. Zero values fall back to component defaults.
	Timeout    time.Duration
	RetryLimit int
	RetryDelay time.Duration
	NoRetry    bool

	// Retry bookkeeping, stamped by the retry manager on re-submission.
	Attempts    int
	IsRetry     bool
	RetryReason string
}

// Record is a snapshot of one work item's lifecycle. A record lives in
// exactly one of the running/completed/failed tables at a time.
type Record struct {
	ID        string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Attempts  int

	Result    any
	Error     string
	IsTimeout bool

	// cancel interrupts the item's context, best effort. Set while running.
	cancel context.CancelFunc
}

func (r *Record) snapshot() Record {
	cp := *r
	cp.cancel = nil
	return cp
}

// Outcome is the uniform result of Execute. Expected failures are reported
// here, never raised.
type Outcome struct {
	Success bool
	Record  Record
	Result  any
	Err     error
}

// Stats summarizes the executor for monitoring surfaces.
//
// Duration aggregates (min/avg/max) cover completed records only; failed
// execution time is reported separately as FailedDuration.
type Stats struct {
	Running   int
	Completed int
	Failed    int

	SuccessRate float64

	MinDuration time.Duration
	AvgDuration time.Duration
	MaxDuration time.Duration

	FailedDuration time.Duration
	Timeouts       uint64
	Utilization    float64
	Concurrency    int
}

// ClearOptions selects which lifecycle tables ClearHistory empties.
// The zero value clears both.
type ClearOptions struct {
	Completed bool
	Failed    bool
}

// TaskEvent is the event-bus payload for executor lifecycle events.
type TaskEvent struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
	IsTimeout bool          `json:"is_timeout,omitempty"`
}
