package retry

import (
	"errors"
	"testing"
	"time"

	"taskforge/internal/task/executor"
	logx "taskforge/pkg/logx"
)

func newTestManager(cfg Config) *Manager {
	return NewManager(cfg, logx.Nop(), nil)
}

func TestCalculateDelayExactWithoutJitter(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		JitterFactor: 0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 15 * time.Second},
		{7, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := m.CalculateDelay(tt.attempt); got != tt.want {
			t.Fatalf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{
		BaseDelay:    1 * time.Second,
		MaxDelay:     15 * time.Second,
		JitterFactor: 0.5,
	})

	for i := 0; i < 50; i++ {
		d := m.CalculateDelay(2)
		if d < 2*time.Second || d >= 3*time.Second {
			t.Fatalf("jittered delay %v outside [2s, 3s)", d)
		}
	}
}

func TestCalculateDelayMinFloor(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{
		BaseDelay: 10 * time.Millisecond,
		MinDelay:  100 * time.Millisecond,
	})
	if got := m.CalculateDelay(1); got != 100*time.Millisecond {
		t.Fatalf("CalculateDelay(1) = %v, want MinDelay floor", got)
	}
}

func TestShouldRetryClassification(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{MaxAttempts: 3})
	item := &executor.WorkItem{ID: "t"}

	tests := []struct {
		msg  string
		want bool
	}{
		{"Validation failed: missing field", false},
		{"invalid argument: count", false},
		{"Invalid_Argument", false},
		{"401 Unauthorized", false},
		{"forbidden by policy", false},
		{"resource not found", false},
		{"resource not_found", false},
		{"400 Bad Request", false},
		{"syntax error near token", false},
		{"socket hang up", true},
		{"connection reset by peer", true},
		{"rate limit exceeded", true},
		{"timeout waiting for response", true},
	}
	for _, tt := range tests {
		if got := m.ShouldRetry(item, errors.New(tt.msg)); got != tt.want {
			t.Fatalf("ShouldRetry(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestShouldRetryNonRetryableRegardlessOfBudget(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{MaxAttempts: 10})
	item := &executor.WorkItem{ID: "auth-task"}

	if m.ShouldRetry(item, errors.New("unauthorized")) {
		t.Fatal("non-retryable error allowed with fresh attempt budget")
	}
	if m.Attempts("auth-task") != 0 {
		t.Fatal("classification consumed an attempt")
	}
}

func TestShouldRetryBudget(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{MaxAttempts: 2, BaseDelay: time.Millisecond, JitterFactor: 0})
	item := &executor.WorkItem{ID: "budget"}
	transient := errors.New("connection reset")
	noop := func(*executor.WorkItem, RetryInfo) {}

	if !m.ShouldRetry(item, transient) {
		t.Fatal("first failure should retry")
	}
	if _, err := m.ScheduleRetry(item, noop); err != nil {
		t.Fatal(err)
	}
	if !m.ShouldRetry(item, transient) {
		t.Fatal("second failure should retry")
	}
	if _, err := m.ScheduleRetry(item, noop); err != nil {
		t.Fatal(err)
	}
	if m.ShouldRetry(item, transient) {
		t.Fatal("budget spent, should not retry")
	}

	// NoRetry and per-item limits override the defaults.
	if m.ShouldRetry(&executor.WorkItem{ID: "x", NoRetry: true}, transient) {
		t.Fatal("NoRetry item retried")
	}
	wide := &executor.WorkItem{ID: "budget", RetryLimit: 5}
	if !m.ShouldRetry(wide, transient) {
		t.Fatal("per-item RetryLimit ignored")
	}
}

func TestScheduleRetryFiresTaggedItem(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{BaseDelay: 5 * time.Millisecond, JitterFactor: 0})
	item := &executor.WorkItem{ID: "fire", RetryReason: "connection reset"}

	fired := make(chan *executor.WorkItem, 1)
	info, err := m.ScheduleRetry(item, func(it *executor.WorkItem, ri RetryInfo) {
		fired <- it
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.TaskID != "fire" || info.Attempts != 1 || info.Delay != 5*time.Millisecond {
		t.Fatalf("RetryInfo = %+v", info)
	}
	if info.Reason != "connection reset" {
		t.Fatalf("Reason = %q", info.Reason)
	}

	select {
	case it := <-fired:
		if !it.IsRetry || it.Attempts != 1 {
			t.Fatalf("tagged item = %+v", it)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry never fired")
	}
	if m.Stats().Pending != 0 {
		t.Fatal("fired retry still pending")
	}
}

func TestScheduleRetryValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{})
	noop := func(*executor.WorkItem, RetryInfo) {}

	if _, err := m.ScheduleRetry(nil, noop); !errors.Is(err, ErrNilItem) {
		t.Fatalf("nil item: %v", err)
	}
	if _, err := m.ScheduleRetry(&executor.WorkItem{ID: " "}, noop); !errors.Is(err, ErrNilItem) {
		t.Fatalf("blank id: %v", err)
	}
	if _, err := m.ScheduleRetry(&executor.WorkItem{ID: "x"}, nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("nil callback: %v", err)
	}
}

func TestCancelRetry(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{BaseDelay: time.Hour})
	fired := make(chan struct{}, 1)
	_, err := m.ScheduleRetry(&executor.WorkItem{ID: "c"}, func(*executor.WorkItem, RetryInfo) {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}

	if !m.CancelRetry("c") {
		t.Fatal("CancelRetry returned false for pending retry")
	}
	if m.CancelRetry("c") {
		t.Fatal("CancelRetry returned true twice")
	}
	select {
	case <-fired:
		t.Fatal("cancelled retry fired")
	case <-time.After(50 * time.Millisecond):
	}
	// The attempt counter survives cancellation.
	if m.Attempts("c") != 1 {
		t.Fatalf("Attempts = %d, want 1", m.Attempts("c"))
	}
}

func TestResetAttemptsClearsCounterAndPending(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{BaseDelay: time.Hour})
	noop := func(*executor.WorkItem, RetryInfo) {}
	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "r"}, noop)

	m.ResetAttempts("r")
	if m.Attempts("r") != 0 {
		t.Fatalf("Attempts = %d after reset", m.Attempts("r"))
	}
	if m.Stats().Pending != 0 {
		t.Fatal("pending retry survived reset")
	}
}

func TestScheduledRetriesOrderedByExecuteTime(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{BaseDelay: time.Hour, JitterFactor: 0})
	noop := func(*executor.WorkItem, RetryInfo) {}

	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "late", RetryDelay: 3 * time.Hour}, noop)
	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "soon", RetryDelay: time.Minute}, noop)
	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "mid", RetryDelay: time.Hour}, noop)

	got := m.ScheduledRetries(0)
	if len(got) != 3 || got[0].TaskID != "soon" || got[1].TaskID != "mid" || got[2].TaskID != "late" {
		t.Fatalf("ScheduledRetries order = %+v", got)
	}
	if limited := m.ScheduledRetries(2); len(limited) != 2 || limited[0].TaskID != "soon" {
		t.Fatalf("limited = %+v", limited)
	}

	if n := m.CancelAllRetries(); n != 3 {
		t.Fatalf("CancelAllRetries = %d, want 3", n)
	}
}

func TestTransientFailuresThenSuccess(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{MaxAttempts: 3, BaseDelay: 2 * time.Millisecond, JitterFactor: 0})

	hangUp := errors.New("socket hang up")
	resubmit := make(chan *executor.WorkItem, 1)
	cb := func(it *executor.WorkItem, _ RetryInfo) { resubmit <- it }

	item := &executor.WorkItem{ID: "flaky"}
	for want := 1; want <= 2; want++ {
		if !m.ShouldRetry(item, hangUp) {
			t.Fatalf("failure %d should be retryable", want)
		}
		if _, err := m.ScheduleRetry(item, cb); err != nil {
			t.Fatal(err)
		}
		select {
		case next := <-resubmit:
			if next.Attempts != want {
				t.Fatalf("retry %d tagged Attempts = %d", want, next.Attempts)
			}
			item = next
		case <-time.After(2 * time.Second):
			t.Fatalf("retry %d never fired", want)
		}
	}

	// Third run succeeds; the counter shows two retries were spent.
	if m.Attempts("flaky") != 2 {
		t.Fatalf("Attempts = %d, want 2", m.Attempts("flaky"))
	}
	m.ResetAttempts("flaky")
	if m.Attempts("flaky") != 0 {
		t.Fatal("counter not cleared after success")
	}
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()
	m := newTestManager(Config{MaxAttempts: 4, BaseDelay: time.Hour})
	noop := func(*executor.WorkItem, RetryInfo) {}

	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "a"}, noop)
	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "a"}, noop)
	_, _ = m.ScheduleRetry(&executor.WorkItem{ID: "b"}, noop)

	st := m.Stats()
	if st.Tracked != 2 || st.TotalRetries != 3 || st.Pending != 2 {
		t.Fatalf("Stats = %+v", st)
	}
	if st.MaxAttemptsSeen != 2 || st.MaxAttempts != 4 {
		t.Fatalf("Stats attempts = %+v", st)
	}
	if st.AvgRetries != 1.5 {
		t.Fatalf("AvgRetries = %v, want 1.5", st.AvgRetries)
	}
	m.CancelAllRetries()
}
