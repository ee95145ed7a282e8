package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskforge/internal/eventbus"
	"taskforge/internal/runtime/supervisor"
	"taskforge/internal/storage"
	logx "taskforge/pkg/logx"
)

// Service forwards bus events to an external adapter:
// subscription + rate limit + retry + dedup + bounded history.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter Adapter
	bus     eventbus.Bus
	store   storage.Store // optional, persists dedup across restarts

	cfg     Config
	limiter *rate.Limiter

	unsub   func()
	sup     *supervisor.Supervisor
	started bool

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	delivered uint64
	failed    uint64
	deduped   uint64
	skipped   uint64
}

func New(cfg Config, adapter Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	s := &Service{
		adapter: adapter,
		log:     log,
		bus:     bus,
		store:   store,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.cfg.Enabled || s.adapter == nil || s.bus == nil {
		return
	}
	s.started = true

	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("sink.deliver", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				s.deliverOne(ctx, ev)
			}
		}
	})
	s.log.Info("sink started", logx.Int("queue_size", s.cfg.QueueSize))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsub := s.unsub
	sup := s.sup
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	_ = sup.Stop(ctx)
	s.log.Info("sink stopped")
}

func (s *Service) deliverOne(ctx context.Context, ev eventbus.Event) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if len(cfg.Types) > 0 && !typeAllowed(cfg.Types, ev.Type) {
		atomic.AddUint64(&s.skipped, 1)
		return
	}

	key := dedupKey(ev)
	if cfg.DedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries) {
			atomic.AddUint64(&s.deduped, 1)
			return
		}
	}

	d := Delivery{Type: ev.Type, At: ev.Time, Payload: ev.Data}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		// Bound per-delivery call so a stuck adapter can't hang the loop.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.adapter.Deliver(callCtx, d)
		cancel()
		if err == nil {
			atomic.AddUint64(&s.delivered, 1)
			s.appendHistory(HistoryItem{At: time.Now(), Type: ev.Type, Key: key})
			return
		}
		lastErr = err
		s.log.Debug("sink delivery failed",
			logx.Err(err),
			logx.String("type", ev.Type),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	atomic.AddUint64(&s.failed, 1)
	item := HistoryItem{At: time.Now(), Type: ev.Type, Key: key}
	if lastErr != nil {
		item.Error = lastErr.Error()
	}
	s.appendHistory(item)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// Snapshot returns recent delivery history, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) Stats() Stats {
	return Stats{
		Delivered: atomic.LoadUint64(&s.delivered),
		Failed:    atomic.LoadUint64(&s.failed),
		Deduped:   atomic.LoadUint64(&s.deduped),
		Skipped:   atomic.LoadUint64(&s.skipped),
	}
}

func typeAllowed(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func dedupKey(ev eventbus.Event) string {
	if ev.Type == "" {
		return ""
	}
	b, err := json.Marshal(ev.Data)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(ev.Type))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write(b)
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}

	// Consult persisted state on in-memory miss so suppression survives
	// restarts.
	if s.store != nil {
		if until, ok, err := s.store.GetDedup(ctx, key); err == nil && ok && now.Before(until) {
			s.dedup[key] = until
			return false
		}
	}

	until := now.Add(window)
	s.dedup[key] = until
	if s.store != nil {
		if err := s.store.PutDedup(ctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
	}

	// Prune expired and cap.
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt); delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d = time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
