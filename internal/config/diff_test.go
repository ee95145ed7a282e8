package config

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Executor: ExecutorConfig{Concurrency: 4},
		Retry:    RetryConfig{MaxAttempts: 3},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Executor: ExecutorConfig{Concurrency: 4},
		Retry:    RetryConfig{MaxAttempts: 5},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs:    []JobConfig{{Name: "ping", Schedule: "@hourly", Kind: "echo"}},
		},
		Storage: &StorageConfig{Driver: "file", Path: "/var/lib/taskforge"},
	}

	changed, attrs, jobs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"jobs", "logging", "retry", "scheduler", "storage"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs produced")
	}
	if !reflect.DeepEqual(jobs, []string{"ping"}) {
		t.Fatalf("jobs = %v", jobs)
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()
	cfg := &Config{Executor: ExecutorConfig{Concurrency: 2}}
	changed, _, jobs := SummarizeConfigChange(cfg, cfg)
	if len(changed) != 0 || len(jobs) != 0 {
		t.Fatalf("changed = %v, jobs = %v, want none", changed, jobs)
	}
}

func TestSummarizeConfigChangeNilSinkMeansDefaults(t *testing.T) {
	t.Parallel()
	// Spelling out the defaults is the same as leaving sink nil.
	explicit := &Config{Sink: &SinkConfig{
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		HistorySize:     100,
	}}
	changed, _, _ := SummarizeConfigChange(&Config{}, explicit)
	for _, c := range changed {
		if c == "sink" {
			t.Fatalf("default sink flagged as changed: %v", changed)
		}
	}

	enabled := &Config{Sink: &SinkConfig{Enabled: true}}
	changed, _, _ = SummarizeConfigChange(&Config{}, enabled)
	found := false
	for _, c := range changed {
		if c == "sink" {
			found = true
		}
	}
	if !found {
		t.Fatalf("enabled sink not flagged: %v", changed)
	}
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()
	oldJobs := []JobConfig{
		{Name: "keep", Schedule: "@hourly", Kind: "echo", Payload: json.RawMessage(`{"a":1}`)},
		{Name: "retime", Schedule: "@hourly", Kind: "echo"},
		{Name: "drop", Schedule: "10m", Kind: "sleep"},
		{Name: "repay", Schedule: "5m", Kind: "echo", Payload: json.RawMessage(`{"a":1,"b":2}`)},
	}
	newJobs := []JobConfig{
		{Name: "keep", Schedule: "@hourly", Kind: "echo", Payload: json.RawMessage(`{"a": 1}`)},
		{Name: "retime", Schedule: "@daily", Kind: "echo"},
		{Name: "add", Schedule: "1m", Kind: "echo"},
		{Name: "repay", Schedule: "5m", Kind: "echo", Payload: json.RawMessage(`{"b":2,"a":9}`)},
	}

	got := diffJobs(oldJobs, newJobs)
	want := []string{"add", "drop", "repay", "retime"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("diffJobs = %v, want %v", got, want)
	}
}

func TestDiffJobsPayloadWhitespaceInsensitive(t *testing.T) {
	t.Parallel()
	a := []JobConfig{{Name: "j", Schedule: "1m", Kind: "echo", Payload: json.RawMessage(`{"x":1,"y":"z"}`)}}
	b := []JobConfig{{Name: "j", Schedule: "1m", Kind: "echo", Payload: json.RawMessage(`{ "y": "z", "x": 1 }`)}}
	if got := diffJobs(a, b); len(got) != 0 {
		t.Fatalf("reordered payload flagged: %v", got)
	}
}
