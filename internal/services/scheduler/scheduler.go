package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskforge/internal/config"
	logx "taskforge/pkg/logx"
)

// Submit delivers one due job to the pipeline. It must not block for long;
// the pipeline owns queuing and backpressure.
type Submit func(ctx context.Context, job config.JobConfig)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// JobStatus is a monitoring view of one registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Kind     string    `json:"kind"`
	NextRun  time.Time `json:"next_run"`
}

// Service turns declarative job configs into recurring pipeline submissions.
//
// Cron specs and intervals both run on one robfig/cron instance; intervals
// are registered as "@every" entries.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	submit Submit

	parser  cron.Parser
	c       *cron.Cron
	jobs    []config.JobConfig
	entries map[string]cron.EntryID

	ctx     context.Context
	running bool
}

func New(cfg Config, log logx.Logger, submit Submit) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		submit:  submit,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx = ctx

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	// re-register existing jobs (if any)
	for _, j := range s.jobs {
		if err := s.addJobLocked(j); err != nil {
			s.log.Warn("job registration failed", logx.String("job", j.Name), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.c != nil {
		select {
		case <-s.c.Stop().Done():
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.entries = map[string]cron.EntryID{}
	s.log.Info("scheduler stopped")
}

// Apply updates trigger settings. A timezone change restarts the cron
// instance and re-registers every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.running && oldTZ != newTZ {
		s.restartLocked()
	}
}

// SetJobs replaces the registered job set. Invalid jobs are skipped with a
// warning; the rest still register.
func (s *Service) SetJobs(jobs []config.JobConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobs
	if s.running {
		s.restartLocked()
	}
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entries = map[string]cron.EntryID{}
	for _, j := range s.jobs {
		if err := s.addJobLocked(j); err != nil {
			s.log.Warn("job registration failed", logx.String("job", j.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) addJobLocked(job config.JobConfig) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return fmt.Errorf("job name required")
	}
	spec, err := ParseSchedule(job.Schedule)
	if err != nil {
		return err
	}

	expr := spec.Cron
	if spec.Kind == SpecInterval {
		expr = fmt.Sprintf("@every %s", spec.Every.String())
	}

	j := job
	id, err := s.c.AddFunc(expr, func() { s.dispatch(j) })
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

func (s *Service) dispatch(job config.JobConfig) {
	s.mu.Lock()
	ctx := s.ctx
	submit := s.submit
	s.mu.Unlock()
	if submit == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	s.log.Debug("job due", logx.String("job", job.Name), logx.String("kind", job.Kind))
	submit(ctx, job)
}

// Snapshot lists registered jobs with their next run time.
func (s *Service) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.Name, Schedule: j.Schedule, Kind: j.Kind}
		if s.c != nil {
			if id, ok := s.entries[j.Name]; ok {
				st.NextRun = s.c.Entry(id).Next
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
