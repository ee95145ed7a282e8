package retry

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"taskforge/internal/eventbus"
	"taskforge/internal/task/executor"
	logx "taskforge/pkg/logx"
)

var (
	ErrNilItem     = errors.New("work item is nil")
	ErrNilCallback = errors.New("retry callback is nil")
)

// Callback receives the re-tagged work item when a scheduled retry fires.
type Callback func(item *executor.WorkItem, info RetryInfo)

type scheduled struct {
	info  RetryInfo
	timer *time.Timer
}

// Manager decides whether failed work items retry and owns the timers that
// re-submit them.
//
// Attempt counters are created on first failure, incremented per retry and
// cleared on ResetAttempts; they never exceed the item's effective attempt
// budget because ShouldRetry gates every ScheduleRetry call.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	attempts map[string]int
	pending  map[string]*scheduled

	totalRetries    uint64
	maxAttemptsSeen int

	rng *rand.Rand

	log logx.Logger
	bus eventbus.Bus
}

func NewManager(cfg Config, log logx.Logger, bus eventbus.Bus) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		attempts: map[string]int{},
		pending:  map[string]*scheduled{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
		bus:      bus,
	}
}

func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// maxAttemptsFor resolves the effective retry budget for an item.
func (m *Manager) maxAttemptsFor(item *executor.WorkItem) int {
	if item != nil && item.RetryLimit > 0 {
		return item.RetryLimit
	}
	return m.cfg.MaxAttempts
}

// ShouldRetry reports whether a failed item is worth retrying.
//
// It is false when the item disabled retries, when the attempt budget is
// spent, or when the error message matches a non-retryable class.
func (m *Manager) ShouldRetry(item *executor.WorkItem, err error) bool {
	if item == nil || item.NoRetry {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if rule, hit := classify(m.cfg.Rules, err.Error()); hit {
			m.log.Debug("error classified non-retryable",
				logx.String("task", item.ID),
				logx.String("rule", rule.Name),
				logx.Err(err))
			return false
		}
	}
	return m.attempts[item.ID] < m.maxAttemptsFor(item)
}

// CalculateDelay computes the backoff for the given attempt number (1-based):
// min(base * 2^(n-1), max) plus uniform jitter, floored at the minimum delay.
func (m *Manager) CalculateDelay(attempt int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayLocked(m.cfg.BaseDelay, attempt)
}

func (m *Manager) delayLocked(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = m.cfg.BaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxDelay {
			d = m.cfg.MaxDelay
			break
		}
	}
	if d > m.cfg.MaxDelay {
		d = m.cfg.MaxDelay
	}
	if m.cfg.JitterFactor > 0 {
		d += time.Duration(m.rng.Float64() * m.cfg.JitterFactor * float64(d))
	}
	if d < m.cfg.MinDelay {
		d = m.cfg.MinDelay
	}
	return d
}

// ScheduleRetry increments the item's attempt counter, arms a timer and
// returns the retry descriptor immediately; the callback fires later with a
// re-tagged copy of the item. Scheduling never blocks.
//
// Errors are returned only for programmer misuse (nil item or callback).
func (m *Manager) ScheduleRetry(item *executor.WorkItem, cb Callback) (RetryInfo, error) {
	if item == nil || strings.TrimSpace(item.ID) == "" {
		return RetryInfo{}, ErrNilItem
	}
	if cb == nil {
		return RetryInfo{}, ErrNilCallback
	}

	m.mu.Lock()
	id := item.ID
	m.attempts[id]++
	attempts := m.attempts[id]
	if attempts > m.maxAttemptsSeen {
		m.maxAttemptsSeen = attempts
	}
	m.totalRetries++

	delay := m.delayLocked(item.RetryDelay, attempts)
	now := time.Now()
	info := RetryInfo{
		TaskID:      id,
		Attempts:    attempts,
		MaxAttempts: m.maxAttemptsFor(item),
		Delay:       delay,
		ScheduledAt: now,
		ExecuteAt:   now.Add(delay),
		Reason:      item.RetryReason,
	}

	// Replace any previous pending retry for this id.
	if old, ok := m.pending[id]; ok {
		old.timer.Stop()
	}

	// Copy the item so late caller mutations don't race the timer.
	tagged := *item
	tagged.Attempts = attempts
	tagged.IsRetry = true

	sc := &scheduled{info: info}
	sc.timer = time.AfterFunc(delay, func() { m.fire(id, sc, &tagged, cb) })
	m.pending[id] = sc
	m.mu.Unlock()

	m.log.Debug("retry scheduled",
		logx.String("task", id),
		logx.Int("attempt", attempts),
		logx.Duration("delay", delay))
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRetrying, Time: now, Data: info})
	}
	return info, nil
}

func (m *Manager) fire(id string, sc *scheduled, item *executor.WorkItem, cb Callback) {
	m.mu.Lock()
	cur, ok := m.pending[id]
	if !ok || cur != sc {
		// Cancelled (or superseded) between arming and firing; drop silently.
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	m.mu.Unlock()

	cb(item, sc.info)
}

// CancelRetry stops a pending retry before it fires. It reports whether a
// pending retry existed; calling it again is a no-op returning false.
func (m *Manager) CancelRetry(taskID string) bool {
	m.mu.Lock()
	sc, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	sc.timer.Stop()
	m.log.Debug("retry cancelled", logx.String("task", taskID))
	return true
}

// CancelAllRetries cancels every pending retry and returns how many.
func (m *Manager) CancelAllRetries() int {
	m.mu.Lock()
	scs := make([]*scheduled, 0, len(m.pending))
	for _, sc := range m.pending {
		scs = append(scs, sc)
	}
	m.pending = map[string]*scheduled{}
	m.mu.Unlock()

	for _, sc := range scs {
		sc.timer.Stop()
	}
	return len(scs)
}

// Attempts returns the current attempt counter for a task id.
func (m *Manager) Attempts(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[taskID]
}

// ResetAttempts clears the counter and cancels any pending retry for the id.
func (m *Manager) ResetAttempts(taskID string) {
	m.CancelRetry(taskID)
	m.mu.Lock()
	delete(m.attempts, taskID)
	m.mu.Unlock()
}

// ScheduledRetries returns up to limit pending retries ordered by execute
// time (limit <= 0 returns all).
func (m *Manager) ScheduledRetries(limit int) []RetryInfo {
	m.mu.Lock()
	out := make([]RetryInfo, 0, len(m.pending))
	for _, sc := range m.pending {
		out = append(out, sc.info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Tracked:         len(m.attempts),
		TotalRetries:    m.totalRetries,
		Pending:         len(m.pending),
		MaxAttemptsSeen: m.maxAttemptsSeen,
		MaxAttempts:     m.cfg.MaxAttempts,
		BaseDelay:       m.cfg.BaseDelay,
		MaxDelay:        m.cfg.MaxDelay,
		JitterFactor:    m.cfg.JitterFactor,
	}
	if st.Tracked > 0 {
		sum := 0
		for _, n := range m.attempts {
			sum += n
		}
		st.AvgRetries = float64(sum) / float64(st.Tracked)
		st.RetryRate = float64(st.TotalRetries) / float64(st.Tracked)
	}
	return st
}
