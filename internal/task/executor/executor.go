package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"taskforge/internal/eventbus"
	logx "taskforge/pkg/logx"
)

var (
	ErrNoRunFunc      = errors.New("work item has no run function")
	ErrEmptyID        = errors.New("work item id is required")
	ErrAlreadyRunning = errors.New("work item id already running")
	ErrTimeout        = errors.New("work item timed out")
	ErrCancelled      = errors.New("work item cancelled")
)

// Executor runs work items with per-item timeouts and tracks their lifecycle
// in running/completed/failed tables.
//
// Capacity is advisory: Execute never blocks or queues. Callers that want
// bounded concurrency check HasCapacity before submitting.
type Executor struct {
	mu  sync.Mutex
	cfg Config

	running   map[string]*Record
	completed map[string]*Record
	failed    map[string]*Record

	// Insertion order per table, for bounded-history eviction.
	completedOrder []string
	failedOrder    []string

	timeouts uint64

	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Executor {
	return &Executor{
		cfg:       cfg.withDefaults(),
		running:   map[string]*Record{},
		completed: map[string]*Record{},
		failed:    map[string]*Record{},
		log:       log,
		bus:       bus,
	}
}

func (e *Executor) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// HasCapacity reports whether a new submission would stay within the
// configured concurrency limit.
func (e *Executor) HasCapacity() bool { return e.AvailableSlots() > 0 }

// AvailableSlots returns the concurrency limit minus the running count.
func (e *Executor) AvailableSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.cfg.Concurrency - len(e.running)
	if n < 0 {
		n = 0
	}
	return n
}

type runResult struct {
	value any
	err   error
}

// Execute runs one work item to completion and returns a uniform outcome.
//
// The item's function races against its timeout (item override, else the
// executor default). A firing timeout fails the item and unblocks the caller;
// the underlying function is signalled through ctx but not forcibly stopped.
func (e *Executor) Execute(ctx context.Context, item *WorkItem) Outcome {
	if item == nil || item.Run == nil {
		return Outcome{Err: ErrNoRunFunc}
	}
	if strings.TrimSpace(item.ID) == "" {
		return Outcome{Err: ErrEmptyID}
	}

	timeout := item.Timeout
	e.mu.Lock()
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if _, dup := e.running[item.ID]; dup {
		e.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrAlreadyRunning, item.ID)}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	attempts := item.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	rec := &Record{
		ID:        item.ID,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Attempts:  attempts,
		cancel:    cancel,
	}
	e.running[item.ID] = rec
	e.mu.Unlock()
	defer cancel()

	e.publish(eventbus.TypeTaskStarted, TaskEvent{ID: item.ID, Status: StatusRunning, Started: rec.StartedAt, Attempts: attempts})

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("panic in work item",
					logx.String("task", item.ID),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
				done <- runResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := item.Run(runCtx)
		done <- runResult{value: v, err: err}
	}()

	var res runResult
	isTimeout := false
	select {
	case res = <-done:
		isTimeout = isTimeoutErr(res.err)
	case <-runCtx.Done():
		// Timer fired or the caller/Cancel tore the context down. The work
		// item's goroutine keeps running until it observes ctx; best effort.
		res.err = runCtx.Err()
		if errors.Is(res.err, context.DeadlineExceeded) {
			isTimeout = true
			res.err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}

	now := time.Now()
	dur := now.Sub(rec.StartedAt)

	e.mu.Lock()
	cur, stillRunning := e.running[item.ID]
	if !stillRunning || cur != rec {
		// Cancel() relocated the record while we were executing.
		snap := rec.snapshot()
		e.mu.Unlock()
		return Outcome{Record: snap, Err: ErrCancelled}
	}
	delete(e.running, item.ID)

	rec.EndedAt = now
	rec.Duration = dur
	if res.err != nil {
		rec.Status = StatusFailed
		rec.Error = res.err.Error()
		rec.IsTimeout = isTimeout
		if isTimeout {
			e.timeouts++
		}
		e.storeFailedLocked(rec)
	} else {
		rec.Status = StatusCompleted
		rec.Result = res.value
		e.storeCompletedLocked(rec)
	}
	rec.cancel = nil
	snap := rec.snapshot()
	e.mu.Unlock()

	if res.err != nil {
		e.log.Warn("task failed",
			logx.String("task", item.ID),
			logx.Err(res.err),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts),
			logx.Bool("timeout", isTimeout))
		e.publish(eventbus.TypeTaskFailed, TaskEvent{ID: item.ID, Status: StatusFailed, Started: snap.StartedAt, Duration: dur, Attempts: attempts, Error: snap.Error, IsTimeout: isTimeout})
		return Outcome{Record: snap, Err: res.err}
	}

	e.log.Debug("task completed",
		logx.String("task", item.ID),
		logx.Duration("dur", dur),
		logx.Int("attempts", attempts))
	e.publish(eventbus.TypeTaskCompleted, TaskEvent{ID: item.ID, Status: StatusCompleted, Started: snap.StartedAt, Duration: dur, Attempts: attempts})
	return Outcome{Success: true, Record: snap, Result: res.value}
}

// Cancel marks a running item cancelled and relocates its record to the
// failed table. Interruption of the underlying function is best effort
// (its context is cancelled); bookkeeping updates immediately.
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	rec, ok := e.running[taskID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.running, taskID)

	now := time.Now()
	rec.Status = StatusCancelled
	rec.EndedAt = now
	rec.Duration = now.Sub(rec.StartedAt)
	rec.Error = ErrCancelled.Error()
	cancel := rec.cancel
	rec.cancel = nil
	e.storeFailedLocked(rec)
	snap := rec.snapshot()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.log.Debug("task cancelled", logx.String("task", taskID))
	e.publish(eventbus.TypeTaskCancelled, TaskEvent{ID: taskID, Status: StatusCancelled, Started: snap.StartedAt, Duration: snap.Duration, Attempts: snap.Attempts, Error: snap.Error})
	return true
}

// CancelAll cancels every running item and returns how many were cancelled.
func (e *Executor) CancelAll() int {
	e.mu.Lock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	n := 0
	for _, id := range ids {
		if e.Cancel(id) {
			n++
		}
	}
	return n
}

// Status looks a task up in running, then completed, then failed.
func (e *Executor) Status(taskID string) (Status, bool) {
	rec, ok := e.Lookup(taskID)
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Lookup returns the record snapshot for a task id, if tracked.
func (e *Executor) Lookup(taskID string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tbl := range []map[string]*Record{e.running, e.completed, e.failed} {
		if rec, ok := tbl[taskID]; ok {
			return rec.snapshot(), true
		}
	}
	return Record{}, false
}

func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		Running:     len(e.running),
		Completed:   len(e.completed),
		Failed:      len(e.failed),
		Timeouts:    e.timeouts,
		Concurrency: e.cfg.Concurrency,
	}
	if total := st.Completed + st.Failed; total > 0 {
		st.SuccessRate = float64(st.Completed) / float64(total)
	}
	if e.cfg.Concurrency > 0 {
		st.Utilization = float64(st.Running) / float64(e.cfg.Concurrency)
	}

	var sum time.Duration
	first := true
	for _, rec := range e.completed {
		sum += rec.Duration
		if first || rec.Duration < st.MinDuration {
			st.MinDuration = rec.Duration
		}
		if rec.Duration > st.MaxDuration {
			st.MaxDuration = rec.Duration
		}
		first = false
	}
	if st.Completed > 0 {
		st.AvgDuration = sum / time.Duration(st.Completed)
	}
	for _, rec := range e.failed {
		st.FailedDuration += rec.Duration
	}
	return st
}

// ClearHistory empties the selected lifecycle tables. Running items are
// never touched; use Reset for a full wipe.
func (e *Executor) ClearHistory(opts ClearOptions) {
	all := !opts.Completed && !opts.Failed
	e.mu.Lock()
	if opts.Completed || all {
		e.completed = map[string]*Record{}
		e.completedOrder = nil
	}
	if opts.Failed || all {
		e.failed = map[string]*Record{}
		e.failedOrder = nil
	}
	e.mu.Unlock()
}

// Reset cancels all running items, then clears history and counters.
func (e *Executor) Reset() {
	e.CancelAll()
	e.mu.Lock()
	e.completed = map[string]*Record{}
	e.failed = map[string]*Record{}
	e.completedOrder = nil
	e.failedOrder = nil
	e.timeouts = 0
	e.mu.Unlock()
}

func (e *Executor) storeCompletedLocked(rec *Record) {
	if old, ok := e.completed[rec.ID]; ok && old != rec {
		// Re-executions replace the previous record in place.
		e.completed[rec.ID] = rec
		return
	}
	e.completed[rec.ID] = rec
	e.completedOrder = append(e.completedOrder, rec.ID)
	e.evictLocked(&e.completedOrder, e.completed)
	// A finished item leaves the failed table (last attempt wins).
	if _, ok := e.failed[rec.ID]; ok {
		delete(e.failed, rec.ID)
		e.failedOrder = removeID(e.failedOrder, rec.ID)
	}
}

func (e *Executor) storeFailedLocked(rec *Record) {
	if old, ok := e.failed[rec.ID]; ok && old != rec {
		e.failed[rec.ID] = rec
		return
	}
	e.failed[rec.ID] = rec
	e.failedOrder = append(e.failedOrder, rec.ID)
	e.evictLocked(&e.failedOrder, e.failed)
	if _, ok := e.completed[rec.ID]; ok {
		delete(e.completed, rec.ID)
		e.completedOrder = removeID(e.completedOrder, rec.ID)
	}
}

func (e *Executor) evictLocked(order *[]string, tbl map[string]*Record) {
	for len(*order) > e.cfg.HistorySize {
		oldest := (*order)[0]
		*order = (*order)[1:]
		delete(tbl, oldest)
	}
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func (e *Executor) publish(typ string, ev TaskEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// isTimeoutErr classifies errors returned by a work item's own function.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
