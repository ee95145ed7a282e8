package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/eventbus"
	"taskforge/internal/progress"
	"taskforge/internal/runtime/supervisor"
	"taskforge/internal/storage"
	"taskforge/internal/strategy"
	"taskforge/internal/task/executor"
	"taskforge/internal/task/retry"
	logx "taskforge/pkg/logx"
)

// Service is the composition layer: it matches submissions to strategies,
// runs them on the executor, reports progress, persists outcomes and
// re-submits retryable failures through the retry manager.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	reg      *strategy.Registry
	exec     *executor.Executor
	retryMgr *retry.Manager
	notifier *progress.Notifier
	subs     *progress.Table
	store    storage.Store

	queue   chan work
	sup     *supervisor.Supervisor
	started bool

	submitted uint64
	executed  uint64
	succeeded uint64
	failed    uint64
	retried   uint64
	dropped   uint64
	unmatched uint64
}

type work struct {
	sub        Submission
	item       *executor.WorkItem // non-nil for retry re-submissions
	enqueuedAt time.Time
}

type Deps struct {
	Registry *strategy.Registry
	Executor *executor.Executor
	Retry    *retry.Manager
	Notifier *progress.Notifier
	Subs     *progress.Table
	Store    storage.Store
	Bus      eventbus.Bus
}

func New(cfg Config, log logx.Logger, d Deps) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      d.Bus,
		reg:      d.Registry,
		exec:     d.Executor,
		retryMgr: d.Retry,
		notifier: d.Notifier,
		subs:     d.Subs,
		store:    d.Store,
	}
}

// Subscriptions exposes the progress table for observer registration.
func (s *Service) Subscriptions() *progress.Table { return s.subs }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.queue = make(chan work, s.cfg.QueueSize)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("pipeline.worker.%d", i)
		s.sup.GoRestart(name, s.workerLoop)
	}
	s.log.Info("pipeline started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue_size", s.cfg.QueueSize))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	sup := s.sup
	s.mu.Unlock()

	if s.retryMgr != nil {
		s.retryMgr.CancelAllRetries()
	}
	err := sup.Stop(ctx)
	s.log.Info("pipeline stopped")
	return err
}

// Apply updates reloadable settings. Worker count and queue size are fixed
// for the life of the service.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg.MaxQueueDelay = cfg.MaxQueueDelay
	s.mu.Unlock()
}

// Submit queues one submission without blocking. A full queue drops the
// submission and returns ErrQueueFull.
func (s *Service) Submit(ctx context.Context, sub Submission) error {
	if strings.TrimSpace(sub.TaskID) == "" {
		return ErrEmptyID
	}
	return s.push(ctx, work{sub: sub, enqueuedAt: time.Now()})
}

// SubmitJob converts a declarative job config into a submission. Used by the
// scheduler for recurring work; the job name doubles as the task id.
func (s *Service) SubmitJob(ctx context.Context, job config.JobConfig) {
	timeout, err := config.ParseDurationField("jobs."+job.Name+".timeout", job.Timeout)
	if err != nil {
		s.log.Warn("job timeout invalid, ignoring", logx.String("job", job.Name), logx.Err(err))
	}

	var payload map[string]any
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			s.log.Warn("job payload invalid, ignoring", logx.String("job", job.Name), logx.Err(err))
		}
	}

	sub := Submission{
		TaskID:     job.Name,
		Kind:       job.Kind,
		Payload:    payload,
		Timeout:    timeout,
		RetryLimit: job.RetryMax,
		NoRetry:    job.NoRetry,
	}
	if err := s.Submit(ctx, sub); err != nil {
		s.log.Warn("job submission rejected", logx.String("job", job.Name), logx.Err(err))
	}
}

func (s *Service) push(ctx context.Context, w work) error {
	s.mu.Lock()
	queue := s.queue
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	_ = ctx

	select {
	case queue <- w:
		atomic.AddUint64(&s.submitted, 1)
		return nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeTaskDropped,
				Time: time.Now(),
				Data: executor.TaskEvent{ID: w.sub.TaskID, Status: executor.StatusFailed},
			})
		}
		s.log.Warn("pipeline queue full, dropping submission", logx.String("task", w.sub.TaskID))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w := <-s.queue:
			s.processOne(ctx, w)
		}
	}
}

func (s *Service) processOne(ctx context.Context, w work) {
	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && time.Since(w.enqueuedAt) > maxDelay {
		atomic.AddUint64(&s.dropped, 1)
		s.log.Warn("stale submission dropped",
			logx.String("task", w.sub.TaskID),
			logx.Duration("queued_for", time.Since(w.enqueuedAt)))
		return
	}

	task := &strategy.Task{ID: w.sub.TaskID, Kind: w.sub.Kind, Payload: w.sub.Payload}
	strat, ok := s.reg.Select(task)
	if !ok {
		atomic.AddUint64(&s.unmatched, 1)
		s.log.Warn("no strategy for task",
			logx.String("task", task.ID),
			logx.String("kind", task.Kind))
		em := s.notifier.Emitter(s.subs, task.ID)
		_ = em.Failed(fmt.Errorf("no strategy can handle kind %q", task.Kind))
		s.persist(ctx, storage.RunEntry{
			At:     time.Now(),
			TaskID: task.ID,
			Kind:   task.Kind,
			Status: "unmatched",
		})
		return
	}

	item := w.item
	if item == nil {
		item = &executor.WorkItem{
			ID:         w.sub.TaskID,
			Timeout:    w.sub.Timeout,
			RetryLimit: w.sub.RetryLimit,
			NoRetry:    w.sub.NoRetry,
		}
	}
	item.Run = func(runCtx context.Context) (any, error) {
		return strat.Execute(runCtx, task)
	}

	em := s.notifier.Emitter(s.subs, item.ID)
	_ = em.Started(map[string]any{"kind": task.Kind, "strategy": strat.Name(), "attempt": item.Attempts})

	// Executor capacity is advisory; wait for a free slot so direct users of
	// the executor can't starve pipeline workers silently.
	for !s.exec.HasCapacity() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	started := time.Now()
	out := s.exec.Execute(ctx, item)
	atomic.AddUint64(&s.executed, 1)

	entry := storage.RunEntry{
		At:       started,
		TaskID:   item.ID,
		Kind:     task.Kind,
		Strategy: strat.Name(),
		Status:   string(out.Record.Status),
		Attempts: out.Record.Attempts,
		TookMS:   out.Record.Duration.Milliseconds(),
	}

	if out.Success {
		atomic.AddUint64(&s.succeeded, 1)
		if s.retryMgr != nil {
			s.retryMgr.ResetAttempts(item.ID)
		}
		_ = em.Completed(out.Result)
		s.persist(ctx, entry)
		return
	}

	atomic.AddUint64(&s.failed, 1)
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	_ = em.Failed(out.Err)
	s.persist(ctx, entry)

	if s.retryMgr == nil || !s.retryMgr.ShouldRetry(item, out.Err) {
		return
	}
	if out.Err != nil {
		item.RetryReason = out.Err.Error()
	}
	info, err := s.retryMgr.ScheduleRetry(item, func(next *executor.WorkItem, ri retry.RetryInfo) {
		atomic.AddUint64(&s.retried, 1)
		_ = s.push(ctx, work{
			sub:        w.sub,
			item:       next,
			enqueuedAt: time.Now(),
		})
	})
	if err != nil {
		s.log.Warn("retry scheduling failed", logx.String("task", item.ID), logx.Err(err))
		return
	}
	s.log.Debug("task will retry",
		logx.String("task", item.ID),
		logx.Int("attempt", info.Attempts),
		logx.Duration("delay", info.Delay))
}

func (s *Service) persist(ctx context.Context, e storage.RunEntry) {
	if s.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.AppendRun(pctx, e); err != nil {
		s.log.Warn("run persist failed", logx.String("task", e.TaskID), logx.Err(err))
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()

	st := Stats{
		Submitted: atomic.LoadUint64(&s.submitted),
		Executed:  atomic.LoadUint64(&s.executed),
		Succeeded: atomic.LoadUint64(&s.succeeded),
		Failed:    atomic.LoadUint64(&s.failed),
		Retried:   atomic.LoadUint64(&s.retried),
		Dropped:   atomic.LoadUint64(&s.dropped),
		Unmatched: atomic.LoadUint64(&s.unmatched),
	}
	if queue != nil {
		st.Queued = len(queue)
		st.QueueCap = cap(queue)
	}
	return st
}
