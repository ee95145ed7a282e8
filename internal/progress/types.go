package progress

import "time"

// Status tags an event with the lifecycle edge it announces.
type Status string

const (
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCustom    Status = "custom"
)

// Event is an enriched, timestamped progress record.
//
// Emit guarantees every delivered event carries a non-empty TaskID and a
// unique ID; the remaining fields are status-specific payload.
type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CustomType string         `json:"custom_type,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Filter narrows which events reach a subscription's callback.
// All set conditions must hold.
type Filter struct {
	// Status requires an exact status match when non-empty.
	Status Status

	// MinProgress/MaxProgress bound the Progress field when non-nil.
	MinProgress *float64
	MaxProgress *float64

	// Statuses is an allow-list of status tags when non-empty.
	Statuses []Status

	// Predicate is an arbitrary condition evaluated last.
	Predicate func(Event) bool
}

func (f *Filter) accepts(ev Event) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.MinProgress != nil && ev.Progress < *f.MinProgress {
		return false
	}
	if f.MaxProgress != nil && ev.Progress > *f.MaxProgress {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if ev.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Predicate != nil && !f.Predicate(ev) {
		return false
	}
	return true
}

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Filter *Filter

	// FailOnError propagates a callback failure to the caller of Emit
	// instead of containing it.
	FailOnError bool
}
