package retry

import "time"

// Config controls retry policy defaults. Work items may override the attempt
// limit and base delay per item.
type Config struct {
	// MaxAttempts is the default retry budget per work item.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff; attempt n waits
	// min(BaseDelay * 2^(n-1), MaxDelay) plus jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MinDelay floors the computed delay after jitter.
	MinDelay time.Duration

	// JitterFactor adds uniform jitter in [0, JitterFactor*delay).
	JitterFactor float64

	// Rules classifies non-retryable errors. Nil means DefaultRules().
	Rules []Rule
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
	return c
}

// RetryInfo describes one scheduled retry. Internal timer handles are never
// exposed; cancellation goes through Manager.CancelRetry.
type RetryInfo struct {
	TaskID      string
	Attempts    int
	MaxAttempts int
	Delay       time.Duration
	ScheduledAt time.Time
	ExecuteAt   time.Time
	Reason      string
}

// Stats summarizes the manager for monitoring surfaces.
type Stats struct {
	Tracked         int
	TotalRetries    uint64
	Pending         int
	MaxAttemptsSeen int
	RetryRate       float64
	AvgRetries      float64

	// Configured defaults, surfaced for diagnostics.
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}
