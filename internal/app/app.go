package app

import (
	"context"
	"fmt"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/eventbus"
	"taskforge/internal/progress"
	"taskforge/internal/runtime/supervisor"
	"taskforge/internal/services/pipeline"
	"taskforge/internal/services/scheduler"
	"taskforge/internal/services/sink"
	"taskforge/internal/storage"
	"taskforge/internal/strategy"
	"taskforge/internal/task/executor"
	"taskforge/internal/task/retry"
	logx "taskforge/pkg/logx"
)

// App wires the daemon: config, logging, event bus, strategy registry,
// executor, retry manager, progress notifier, scheduler, pipeline, sink and
// optional storage.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	reg      *strategy.Registry
	exec     *executor.Executor
	retryMgr *retry.Manager
	notifier *progress.Notifier
	subs     *progress.Table
	store    storage.Store

	sched *scheduler.Service
	pipe  *pipeline.Service
	snk   *sink.Service

	sup     *supervisor.Supervisor
	lastCfg *config.Config
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgMgr:  cfgMgr,
		logSvc:  logSvc,
		log:     log,
		bus:     eventbus.New(),
		lastCfg: cfg,
	}

	a.reg = strategy.NewRegistry(log.With(logx.String("comp", "registry")))
	a.notifier = progress.NewNotifier(log.With(logx.String("comp", "progress")), a.bus)
	a.subs = progress.NewTable()

	execCfg, err := buildExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.exec = executor.New(execCfg, log.With(logx.String("comp", "executor")), a.bus)

	retryCfg, err := buildRetryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.retryMgr = retry.NewManager(retryCfg, log.With(logx.String("comp", "retry")), a.bus)

	if cfg.Storage != nil {
		storeCfg, err := buildStorageConfig(cfg.Storage)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	a.pipe = pipeline.New(pipeline.Config{
		Workers: execCfg.Concurrency,
	}, log.With(logx.String("comp", "pipeline")), pipeline.Deps{
		Registry: a.reg,
		Executor: a.exec,
		Retry:    a.retryMgr,
		Notifier: a.notifier,
		Subs:     a.subs,
		Store:    a.store,
		Bus:      a.bus,
	})

	a.sched = scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")), a.pipe.SubmitJob)
	a.sched.SetJobs(cfg.Scheduler.Jobs)

	sinkCfg, err := buildSinkConfig(cfg.Sink)
	if err != nil {
		return nil, err
	}
	a.snk = sink.New(sinkCfg, sink.LogAdapter{Log: log.With(logx.String("comp", "sink"))},
		log.With(logx.String("comp", "sink")), a.bus, a.store)

	return a, nil
}

// Registry exposes the strategy registry so callers register handlers
// before Start.
func (a *App) Registry() *strategy.Registry { return a.reg }

// Pipeline exposes the submission surface.
func (a *App) Pipeline() *pipeline.Service { return a.pipe }

// Subscriptions exposes the progress table for observer registration.
func (a *App) Subscriptions() *progress.Table { return a.subs }

func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.pipe.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.snk.Start(a.sup.Context())

	// Config hot reload: the watcher self-heals, the reload loop applies.
	a.cfgMgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_ = ctx
		return validate(cfg)
	})
	updates := a.cfgMgr.Subscribe(1)
	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("taskforge started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false

	a.sched.Stop(ctx)
	a.snk.Stop(ctx)
	err := a.pipe.Stop(ctx)
	a.sup.Cancel()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_ = a.sup.Wait(waitCtx)
	cancel()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("taskforge stopped")
	_ = a.logSvc.Close()
	return err
}

func (a *App) applyConfig(cfg *config.Config) {
	old := a.lastCfg
	a.lastCfg = cfg
	changed, attrs, jobs := config.SummarizeConfigChange(old, cfg)
	if len(changed) == 0 && len(jobs) == 0 {
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if execCfg, err := buildExecutorConfig(cfg); err == nil {
		a.exec.Apply(execCfg)
	} else {
		a.log.Warn("executor config invalid, keeping previous", logx.Err(err))
	}
	if retryCfg, err := buildRetryConfig(cfg); err == nil {
		a.retryMgr.Apply(retryCfg)
	} else {
		a.log.Warn("retry config invalid, keeping previous", logx.Err(err))
	}

	a.sched.Apply(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	})
	if len(jobs) > 0 {
		a.sched.SetJobs(cfg.Scheduler.Jobs)
	}
	if cfg.Scheduler.Enabled && a.sup != nil {
		a.sched.Start(a.sup.Context())
	}

	if sinkCfg, err := buildSinkConfig(cfg.Sink); err == nil {
		a.snk.Apply(sinkCfg)
	} else {
		a.log.Warn("sink config invalid, keeping previous", logx.Err(err))
	}

	// Storage driver changes need a restart; everything else is live.
	if storageChanged(old, cfg) {
		a.log.Warn("storage config changed; restart required to take effect")
	}
}

func storageChanged(old, cur *config.Config) bool {
	o, n := old.Storage, cur.Storage
	if (o == nil) != (n == nil) {
		return true
	}
	return o != nil && *o != *n
}
