package app

import (
	"fmt"

	"taskforge/internal/config"
	"taskforge/internal/services/scheduler"
	"taskforge/internal/services/sink"
	"taskforge/internal/storage"
	"taskforge/internal/task/executor"
	"taskforge/internal/task/retry"
)

func buildExecutorConfig(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.ParseDurationField("executor.default_timeout", cfg.Executor.DefaultTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Concurrency:    cfg.Executor.Concurrency,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Executor.HistorySize,
	}, nil
}

func buildRetryConfig(cfg *config.Config) (retry.Config, error) {
	base, err := config.ParseDurationField("retry.base_delay", cfg.Retry.BaseDelay)
	if err != nil {
		return retry.Config{}, err
	}
	maxD, err := config.ParseDurationField("retry.max_delay", cfg.Retry.MaxDelay)
	if err != nil {
		return retry.Config{}, err
	}
	minD, err := config.ParseDurationField("retry.min_delay", cfg.Retry.MinDelay)
	if err != nil {
		return retry.Config{}, err
	}
	return retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseDelay:    base,
		MaxDelay:     maxD,
		MinDelay:     minD,
		JitterFactor: cfg.Retry.JitterFactor,
	}, nil
}

func buildSinkConfig(sc *config.SinkConfig) (sink.Config, error) {
	if sc == nil {
		return sink.Config{}, nil
	}
	base, err := config.ParseDurationField("sink.retry_base", sc.RetryBase)
	if err != nil {
		return sink.Config{}, err
	}
	maxD, err := config.ParseDurationField("sink.retry_max_delay", sc.RetryMaxDelay)
	if err != nil {
		return sink.Config{}, err
	}
	window, err := config.ParseDurationField("sink.dedup_window", sc.DedupWindow)
	if err != nil {
		return sink.Config{}, err
	}
	return sink.Config{
		Enabled:         sc.Enabled,
		QueueSize:       sc.QueueSize,
		RatePerSec:      sc.RatePerSec,
		RetryMax:        sc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxD,
		DedupWindow:     window,
		DedupMaxEntries: sc.DedupMaxEntries,
		HistorySize:     sc.HistorySize,
	}, nil
}

func buildStorageConfig(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, nil
}

// validate rejects configs that would break components at apply time. Used
// as the hot-reload gate so a bad edit never displaces a working config.
func validate(cfg *config.Config) error {
	if _, err := buildExecutorConfig(cfg); err != nil {
		return err
	}
	if _, err := buildRetryConfig(cfg); err != nil {
		return err
	}
	if _, err := buildSinkConfig(cfg.Sink); err != nil {
		return err
	}
	if cfg.Storage != nil {
		if _, err := buildStorageConfig(cfg.Storage); err != nil {
			return err
		}
	}
	for _, j := range cfg.Scheduler.Jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler job with empty name")
		}
		if _, err := scheduler.ParseSchedule(j.Schedule); err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		if _, err := config.ParseDurationField("jobs."+j.Name+".timeout", j.Timeout); err != nil {
			return err
		}
	}
	return nil
}
