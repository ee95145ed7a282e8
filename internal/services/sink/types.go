package sink

import (
	"context"
	"time"
)

// Adapter delivers one event to an external destination (webhook, message
// broker, log shipper). Implementations must be safe for concurrent use.
type Adapter interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Delivery is the external form of a bus event.
type Delivery struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Config controls the delivery pipeline.
//
// Defaults (zero fields): queue_size 512, rate_per_sec 3, retry_max 3,
// retry_base 500ms, retry_max_delay 10s, dedup_window 1m,
// dedup_max_entries 2000, history_size 100.
type Config struct {
	Enabled         bool
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int

	// Types filters which event types are delivered. Empty means all.
	Types []string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// HistoryItem records one delivered event for status surfaces.
type HistoryItem struct {
	At    time.Time `json:"at"`
	Type  string    `json:"type"`
	Key   string    `json:"key,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Stats summarizes the sink for monitoring surfaces.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Deduped   uint64 `json:"deduped"`
	Skipped   uint64 `json:"skipped"`
}
