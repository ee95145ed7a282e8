package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	logx "taskforge/pkg/logx"
)

func newTestExecutor(cfg Config) *Executor {
	return New(cfg, logx.Nop(), nil)
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	ctx := context.Background()

	if out := e.Execute(ctx, nil); !errors.Is(out.Err, ErrNoRunFunc) {
		t.Fatalf("nil item: got %v, want ErrNoRunFunc", out.Err)
	}
	if out := e.Execute(ctx, &WorkItem{ID: "x"}); !errors.Is(out.Err, ErrNoRunFunc) {
		t.Fatalf("nil run: got %v, want ErrNoRunFunc", out.Err)
	}
	item := &WorkItem{Run: func(context.Context) (any, error) { return nil, nil }}
	if out := e.Execute(ctx, item); !errors.Is(out.Err, ErrEmptyID) {
		t.Fatalf("empty id: got %v, want ErrEmptyID", out.Err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	out := e.Execute(context.Background(), &WorkItem{
		ID:  "ok",
		Run: func(context.Context) (any, error) { return 42, nil },
	})
	if !out.Success || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Result != 42 {
		t.Fatalf("Result = %v, want 42", out.Result)
	}
	if st, ok := e.Status("ok"); !ok || st != StatusCompleted {
		t.Fatalf("Status = %v/%v, want completed", st, ok)
	}
	rec, ok := e.Lookup("ok")
	if !ok || rec.Attempts != 1 || rec.Duration < 0 {
		t.Fatalf("Lookup = %+v/%v", rec, ok)
	}
}

func TestExecuteFailureRecordsError(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	boom := errors.New("boom")
	out := e.Execute(context.Background(), &WorkItem{
		ID:  "bad",
		Run: func(context.Context) (any, error) { return nil, boom },
	})
	if out.Success || !errors.Is(out.Err, boom) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if st, _ := e.Status("bad"); st != StatusFailed {
		t.Fatalf("Status = %v, want failed", st)
	}
	if out.Record.Error != "boom" || out.Record.IsTimeout {
		t.Fatalf("Record = %+v", out.Record)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	start := time.Now()
	out := e.Execute(context.Background(), &WorkItem{
		ID:      "slow",
		Timeout: 50 * time.Millisecond,
		Run: func(ctx context.Context) (any, error) {
			// Ignores ctx so the timer path is what unblocks the caller.
			time.Sleep(500 * time.Millisecond)
			return "done", nil
		},
	})
	if out.Success {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("Err = %v, want ErrTimeout", out.Err)
	}
	if !out.Record.IsTimeout {
		t.Fatalf("Record.IsTimeout = false: %+v", out.Record)
	}
	// The caller unblocks at the timeout, not at the function's own pace.
	if took := time.Since(start); took > 400*time.Millisecond {
		t.Fatalf("Execute blocked %v, want ~50ms", took)
	}
	st := e.Stats()
	if st.Timeouts != 1 {
		t.Fatalf("Stats.Timeouts = %d, want 1", st.Timeouts)
	}
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	out := e.Execute(context.Background(), &WorkItem{
		ID:  "panicky",
		Run: func(context.Context) (any, error) { panic("kaboom") },
	})
	if out.Success || out.Err == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if st, _ := e.Status("panicky"); st != StatusFailed {
		t.Fatalf("Status = %v, want failed", st)
	}
}

func TestAdvisoryCapacity(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{Concurrency: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		e.Execute(context.Background(), &WorkItem{
			ID: "first",
			Run: func(context.Context) (any, error) {
				close(started)
				<-release
				return nil, nil
			},
		})
	}()
	<-started

	if e.HasCapacity() {
		t.Fatal("HasCapacity = true with concurrency 1 and one running item")
	}
	if n := e.AvailableSlots(); n != 0 {
		t.Fatalf("AvailableSlots = %d, want 0", n)
	}

	// Advisory means a second Execute still runs rather than blocking.
	out := e.Execute(context.Background(), &WorkItem{
		ID:  "second",
		Run: func(context.Context) (any, error) { return "ran", nil },
	})
	if !out.Success {
		t.Fatalf("over-capacity Execute failed: %+v", out)
	}

	close(release)
	waitForStatus(t, e, "first", StatusCompleted)
	if !e.HasCapacity() {
		t.Fatal("HasCapacity = false after first item finished")
	}
}

func TestDuplicateRunningRejected(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		e.Execute(context.Background(), &WorkItem{
			ID: "dup",
			Run: func(context.Context) (any, error) {
				close(started)
				<-release
				return nil, nil
			},
		})
	}()
	<-started
	defer close(release)

	out := e.Execute(context.Background(), &WorkItem{
		ID:  "dup",
		Run: func(context.Context) (any, error) { return nil, nil },
	})
	if !errors.Is(out.Err, ErrAlreadyRunning) {
		t.Fatalf("Err = %v, want ErrAlreadyRunning", out.Err)
	}
}

func TestCancelRunning(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})

	started := make(chan struct{})
	outCh := make(chan Outcome, 1)
	go func() {
		outCh <- e.Execute(context.Background(), &WorkItem{
			ID: "victim",
			Run: func(ctx context.Context) (any, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		})
	}()
	<-started

	if !e.Cancel("victim") {
		t.Fatal("Cancel returned false for running item")
	}
	if st, _ := e.Status("victim"); st != StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", st)
	}

	out := <-outCh
	if !errors.Is(out.Err, ErrCancelled) {
		t.Fatalf("Execute outcome = %v, want ErrCancelled", out.Err)
	}

	if e.Cancel("victim") {
		t.Fatal("Cancel returned true for already-cancelled item")
	}
}

func TestReExecutionMovesTables(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	ctx := context.Background()

	fail := e.Execute(ctx, &WorkItem{
		ID:  "flaky",
		Run: func(context.Context) (any, error) { return nil, errors.New("transient") },
	})
	if fail.Success {
		t.Fatal("expected failure")
	}
	ok := e.Execute(ctx, &WorkItem{
		ID:       "flaky",
		Attempts: 2,
		IsRetry:  true,
		Run:      func(context.Context) (any, error) { return "fine", nil },
	})
	if !ok.Success {
		t.Fatalf("retry run failed: %+v", ok)
	}
	if st, _ := e.Status("flaky"); st != StatusCompleted {
		t.Fatalf("Status = %v, want completed", st)
	}
	if ok.Record.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", ok.Record.Attempts)
	}
	st := e.Stats()
	if st.Failed != 0 || st.Completed != 1 {
		t.Fatalf("Stats = %+v, want failed table emptied", st)
	}
}

func TestHistoryEviction(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{HistorySize: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out := e.Execute(ctx, &WorkItem{
			ID:  fmt.Sprintf("task-%d", i),
			Run: func(context.Context) (any, error) { return nil, nil },
		})
		if !out.Success {
			t.Fatalf("task-%d failed: %+v", i, out)
		}
	}

	st := e.Stats()
	if st.Completed != 3 {
		t.Fatalf("Completed = %d, want 3 (evicted)", st.Completed)
	}
	if _, ok := e.Lookup("task-0"); ok {
		t.Fatal("oldest record survived eviction")
	}
	if _, ok := e.Lookup("task-4"); !ok {
		t.Fatal("newest record missing")
	}
}

func TestStatsDurationsCompletedOnly(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	ctx := context.Background()

	e.Execute(ctx, &WorkItem{ID: "a", Run: func(context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}})
	e.Execute(ctx, &WorkItem{ID: "b", Run: func(context.Context) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return nil, errors.New("nope")
	}})

	st := e.Stats()
	if st.Completed != 1 || st.Failed != 1 {
		t.Fatalf("Stats = %+v", st)
	}
	if st.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v, want 0.5", st.SuccessRate)
	}
	if st.MinDuration <= 0 || st.MinDuration != st.MaxDuration || st.AvgDuration != st.MinDuration {
		t.Fatalf("duration aggregates should cover the single completed record: %+v", st)
	}
	if st.FailedDuration < 30*time.Millisecond {
		t.Fatalf("FailedDuration = %v, want >= 30ms", st.FailedDuration)
	}
}

func TestClearHistoryAndReset(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(Config{})
	ctx := context.Background()

	e.Execute(ctx, &WorkItem{ID: "done", Run: func(context.Context) (any, error) { return nil, nil }})
	e.Execute(ctx, &WorkItem{ID: "broken", Run: func(context.Context) (any, error) { return nil, errors.New("x") }})

	e.ClearHistory(ClearOptions{Completed: true})
	if _, ok := e.Lookup("done"); ok {
		t.Fatal("completed record survived ClearHistory")
	}
	if _, ok := e.Lookup("broken"); !ok {
		t.Fatal("failed record cleared unexpectedly")
	}

	e.Reset()
	st := e.Stats()
	if st.Completed != 0 || st.Failed != 0 || st.Running != 0 || st.Timeouts != 0 {
		t.Fatalf("Stats after Reset = %+v", st)
	}
}

func waitForStatus(t *testing.T, e *Executor, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := e.Status(id); ok && st == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, ok := e.Status(id)
	t.Fatalf("status for %s = %v/%v, want %v", id, st, ok, want)
}
