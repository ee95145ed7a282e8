package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry records one finished task execution.
// Keep it compact and schema-stable.
type RunEntry struct {
	At       time.Time
	TaskID   string
	Kind     string
	Strategy string
	Status   string
	Attempts int
	Error    string
	TookMS   int64
	MetaJSON string
}
