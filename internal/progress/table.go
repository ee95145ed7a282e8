package progress

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Callback receives every event whose pattern and filter admit it. A non-nil
// return is contained by the notifier unless the subscription opted into
// FailOnError.
type Callback func(Event) error

type subscription struct {
	id      string
	pattern string
	seq     uint64
	cb      Callback
	opts    SubscribeOptions
}

// Table holds pattern-keyed subscriptions. Notifiers are stateless; callers
// own the table and pass it to Emit, so independent pipelines can keep
// independent subscriber sets.
type Table struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[string]*subscription
}

func NewTable() *Table {
	return &Table{subs: map[string]*subscription{}}
}

// Subscribe registers a callback for every task id the pattern matches and
// returns the subscription id for later removal.
func (t *Table) Subscribe(pattern string, cb Callback, opts ...SubscribeOptions) string {
	var o SubscribeOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		seq:     t.seq,
		cb:      cb,
		opts:    o,
	}
	t.subs[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription by id, reporting whether it existed.
func (t *Table) Unsubscribe(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; !ok {
		return false
	}
	delete(t.subs, id)
	return true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Patterns returns the distinct patterns currently subscribed.
func (t *Table) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]struct{}{}
	out := make([]string, 0, len(t.subs))
	for _, sub := range t.subs {
		if _, ok := seen[sub.pattern]; ok {
			continue
		}
		seen[sub.pattern] = struct{}{}
		out = append(out, sub.pattern)
	}
	return out
}

// matching snapshots the subscriptions whose pattern covers the task id, in
// subscription order. The snapshot lets Emit run callbacks without holding
// the table lock, so callbacks may subscribe or unsubscribe freely.
func (t *Table) matching(taskID string) []*subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		if MatchPattern(sub.pattern, taskID) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
