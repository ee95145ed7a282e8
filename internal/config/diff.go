package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskforge/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections, safe
// structured attrs for logging, and the names of scheduler jobs that changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Executor
	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.concurrency", newCfg.Executor.Concurrency),
			logx.String("executor.default_timeout", strings.TrimSpace(newCfg.Executor.DefaultTimeout)),
			logx.Int("executor.history_size", newCfg.Executor.HistorySize),
		)
	}

	// Retry
	if oldCfg.Retry != newCfg.Retry {
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.Int("retry.max_attempts", newCfg.Retry.MaxAttempts),
			logx.String("retry.base_delay", strings.TrimSpace(newCfg.Retry.BaseDelay)),
			logx.String("retry.max_delay", strings.TrimSpace(newCfg.Retry.MaxDelay)),
			logx.Float64("retry.jitter_factor", newCfg.Retry.JitterFactor),
		)
	}

	// Scheduler triggers
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Sink. Nil means disabled defaults; compare against those for accuracy.
	defSink := &SinkConfig{
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		HistorySize:     100,
	}
	oldS := oldCfg.Sink
	newS := newCfg.Sink
	if oldS == nil {
		oldS = defSink
	}
	if newS == nil {
		newS = defSink
	}
	if !reflect.DeepEqual(*oldS, *newS) {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.Bool("sink.enabled", newS.Enabled),
			logx.Int("sink.queue_size", newS.QueueSize),
			logx.Int("sink.rate_per_sec", newS.RatePerSec),
			logx.Int("sink.retry_max", newS.RetryMax),
		)
	}

	// Storage. Nil means disabled. Never log full paths, just whether set.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Jobs (summarize only; details at debug)
	jobsChanged := diffJobs(oldCfg.Scheduler.Jobs, newCfg.Scheduler.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.count", len(newCfg.Scheduler.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	oldM := map[string]JobConfig{}
	for _, j := range oldJobs {
		oldM[j.Name] = j
	}
	newM := map[string]JobConfig{}
	for _, j := range newJobs {
		newM[j.Name] = j
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK {
			out = append(out, name)
			continue
		}
		if o.Schedule != n.Schedule || o.Kind != n.Kind ||
			o.Timeout != n.Timeout || o.RetryMax != n.RetryMax || o.NoRetry != n.NoRetry {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Payload) != canonicalHashJSON(n.Payload) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
