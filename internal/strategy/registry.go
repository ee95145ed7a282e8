package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "taskforge/pkg/logx"
)

const defaultPriority = 5

var (
	ErrNilStrategy = errors.New("strategy is nil")
	ErrEmptyName   = errors.New("strategy name is empty")
	ErrDuplicate   = errors.New("strategy already registered")
)

type entry struct {
	strategy Strategy
	priority int

	// seq breaks priority ties deterministically (registration order).
	seq          uint64
	registeredAt time.Time
	metadata     map[string]any
}

// Registry is a priority-ordered catalog of strategies.
//
// Names are unique. Higher priority is tried first; ties resolve in
// registration order. Unregistering removes a strategy immediately but does
// not abort executions already in flight.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	log logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	return &Registry{entries: map[string]*entry{}, log: log}
}

// Option configures one Register call.
type Option func(*registerOpts)

type registerOpts struct {
	priority int
	metadata map[string]any
	deps     *Deps
}

// WithPriority sets the strategy's priority (default 5, higher tried first).
func WithPriority(p int) Option { return func(o *registerOpts) { o.priority = p } }

// WithMetadata attaches caller-defined metadata to the registration.
func WithMetadata(m map[string]any) Option { return func(o *registerOpts) { o.metadata = m } }

// WithDeps hands shared dependencies to the strategy. If the strategy
// implements Initializer, Register calls Initialize with them.
func WithDeps(d Deps) Option { return func(o *registerOpts) { o.deps = &d } }

// Register adds a strategy to the catalog.
//
// Contract violations (nil strategy, empty name, duplicate name) are
// programmer errors: they fail the call and leave the registry unchanged.
func (r *Registry) Register(ctx context.Context, s Strategy, opts ...Option) error {
	if s == nil {
		return ErrNilStrategy
	}
	name := strings.TrimSpace(s.Name())
	if name == "" {
		return ErrEmptyName
	}

	o := registerOpts{priority: defaultPriority}
	for _, opt := range opts {
		opt(&o)
	}

	// Initialize before the strategy becomes visible, outside the lock.
	if init, ok := s.(Initializer); ok && o.deps != nil {
		if err := init.Initialize(ctx, *o.deps); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.seq++
	r.entries[name] = &entry{
		strategy:     s,
		priority:     o.priority,
		seq:          r.seq,
		registeredAt: time.Now(),
		metadata:     o.metadata,
	}
	r.log.Debug("strategy registered", logx.String("strategy", name), logx.Int("priority", o.priority))
	return nil
}

// Unregister removes a strategy and its bookkeeping.
// It reports whether a removal occurred.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	r.log.Debug("strategy unregistered", logx.String("strategy", name))
	return true
}

func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.strategy, true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Info returns the bookkeeping view for one strategy.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Info{}, false
	}
	return e.info(name), true
}

func (e *entry) info(name string) Info {
	return Info{
		Name:         name,
		Priority:     e.priority,
		RegisteredAt: e.registeredAt,
		Metadata:     e.metadata,
	}
}

// sortedLocked returns entries ordered by descending priority, registration
// order breaking ties. Callers must hold at least a read lock.
func (r *Registry) sortedLocked() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// SortedByPriority returns all strategies, highest priority first.
func (r *Registry) SortedByPriority() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es := r.sortedLocked()
	out := make([]Strategy, len(es))
	for i, e := range es {
		out[i] = e.strategy
	}
	return out
}

// NamesByPriority returns registered names, highest priority first.
func (r *Registry) NamesByPriority() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es := r.sortedLocked()
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.strategy.Name()
	}
	return out
}

// SetPriority updates a strategy's priority.
// It reports whether the strategy existed.
func (r *Registry) SetPriority(name string, priority int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.priority = priority
	return true
}

// UpdateDependencies pushes replacement deps to a strategy that accepts them.
// It reports whether the strategy existed and implements DependencyAware.
func (r *Registry) UpdateDependencies(name string, deps Deps) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	da, ok := e.strategy.(DependencyAware)
	if !ok {
		return false
	}
	da.UpdateDependencies(deps)
	return true
}

// Filter returns every strategy (priority order) the predicate accepts.
func (r *Registry) Filter(pred func(Strategy, Info) bool) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Strategy
	for _, e := range r.sortedLocked() {
		if pred == nil || pred(e.strategy, e.info(e.strategy.Name())) {
			out = append(out, e.strategy)
		}
	}
	return out
}

// Find returns the first strategy (priority order) the predicate accepts.
func (r *Registry) Find(pred func(Strategy, Info) bool) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sortedLocked() {
		if pred == nil || pred(e.strategy, e.info(e.strategy.Name())) {
			return e.strategy, true
		}
	}
	return nil, false
}

// Select returns the highest-priority strategy that can handle the task.
func (r *Registry) Select(t *Task) (Strategy, bool) {
	return r.Find(func(s Strategy, _ Info) bool { return s.CanHandle(t) })
}

// EstimateComplexity scores a task with the given strategy if it supports
// estimation. The second result is false when it does not.
func EstimateComplexity(s Strategy, t *Task) (float64, bool) {
	est, ok := s.(ComplexityEstimator)
	if !ok {
		return 0, false
	}
	return est.EstimateComplexity(t), true
}

// Stats returns counts, a priority histogram and the mean priority.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Count: len(r.entries), ByPriority: map[int]int{}}
	if st.Count == 0 {
		return st
	}
	sum := 0
	for _, e := range r.entries {
		st.ByPriority[e.priority]++
		sum += e.priority
	}
	st.MeanPriority = float64(sum) / float64(st.Count)
	return st
}
