package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"executor": {"concurrency": 8, "default_timeout": "30s"},
		"retry": {"max_attempts": 5, "base_delay": "1s"},
		"scheduler": {
			"enabled": true,
			"timezone": "UTC",
			"jobs": [{"name": "ping", "schedule": "@hourly", "kind": "echo"}]
		}
	}`)

	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Executor.Concurrency != 8 || cfg.Executor.DefaultTimeout != "30s" {
		t.Fatalf("executor = %+v", cfg.Executor)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Name != "ping" {
		t.Fatalf("jobs = %+v", cfg.Scheduler.Jobs)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"executor": {"concurency": 8}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("misspelled field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"executor": {"concurrency": 2}} {"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("concatenated JSON accepted")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
executor:
  concurrency: 2
  default_timeout: 1m
scheduler:
  enabled: true
  jobs:
    - name: nightly
      schedule: "0 3 * * *"
      kind: sleep
      payload:
        duration: 5s
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Executor.Concurrency != 2 {
		t.Fatalf("executor = %+v", cfg.Executor)
	}
	if len(cfg.Scheduler.Jobs) != 1 {
		t.Fatalf("jobs = %+v", cfg.Scheduler.Jobs)
	}
	job := cfg.Scheduler.Jobs[0]
	if job.Name != "nightly" || job.Kind != "sleep" {
		t.Fatalf("job = %+v", job)
	}
	if string(job.Payload) == "" {
		t.Fatal("payload lost in yaml coercion")
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"executor": {"concurrency": 3}}`)
	m := NewManager(path)

	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{Executor: ExecutorConfig{Concurrency: 1}}
	second := &Config{Executor: ExecutorConfig{Concurrency: 2}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatalf("got concurrency %d, want newest", got.Executor.Concurrency)
		}
	default:
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
	// Double unsubscribe is a no-op.
	m.Unsubscribe(ch)
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"executor": {"concurrency": 1}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}

	ch := m.Subscribe(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to arm before writing.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"executor": {"concurrency": 9}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Executor.Concurrency != 9 {
			t.Fatalf("published concurrency = %d, want 9", cfg.Executor.Concurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("edit never published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestWatchValidatorGatesCommit(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"executor": {"concurrency": 1}}`)
	m := NewManager(path)
	good, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Executor.Concurrency < 0 {
			return errors.New("concurrency must be >= 0")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"executor": {"concurrency": -5}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	// The rejected edit must not displace the committed config.
	time.Sleep(time.Second)
	if m.Get() != good {
		t.Fatalf("rejected config committed: %+v", m.Get())
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 250ms "); err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
