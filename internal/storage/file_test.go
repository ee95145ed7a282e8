package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "taskforge/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mystery"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestAppendAndRecentRuns(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	st := openTestStore(t, path)
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := st.AppendRun(ctx, RunEntry{
			At:     time.Now(),
			TaskID: fmt.Sprintf("task-%d", i),
			Kind:   "echo",
			Status: "completed",
			TookMS: int64(i * 10),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	runs, err := st.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	// Newest first.
	if runs[0].TaskID != "task-4" || runs[2].TaskID != "task-2" {
		t.Fatalf("order = %s..%s", runs[0].TaskID, runs[2].TaskID)
	}

	all, err := st.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("unlimited read returned %d, want 5", len(all))
	}
}

func TestRecentRunsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	st := openTestStore(t, path)
	defer st.Close()

	// The runs file exists but is empty.
	runs, err := st.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("got %d runs from empty store", len(runs))
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	st := openTestStore(t, path)
	defer st.Close()

	ctx := context.Background()
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "key-a", until); err != nil {
		t.Fatal(err)
	}

	got, ok, err := st.GetDedup(ctx, "key-a")
	if err != nil || !ok {
		t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
	}
	// The file backend stores millisecond precision.
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("GetDedup found a key never written")
	}
	// Blank keys are ignored, not errors.
	if err := st.PutDedup(ctx, "  ", until); err != nil {
		t.Fatal(err)
	}
}

func TestDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	ctx := context.Background()

	st := openTestStore(t, path)
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "persisted", until); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2 := openTestStore(t, path)
	defer st2.Close()
	got, ok, err := st2.GetDedup(ctx, "persisted")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reopen = %v, %v, %v", got, ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestExpiredDedupDroppedOnReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	ctx := context.Background()

	st := openTestStore(t, path)
	if err := st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2 := openTestStore(t, path)
	defer st2.Close()
	if _, ok, _ := st2.GetDedup(ctx, "stale"); ok {
		t.Fatal("expired dedup entry survived reopen")
	}
}

func TestRunsSurviveReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	ctx := context.Background()

	st := openTestStore(t, path)
	if err := st.AppendRun(ctx, RunEntry{TaskID: "before-restart", Status: "failed", Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2 := openTestStore(t, path)
	defer st2.Close()
	runs, err := st2.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].TaskID != "before-restart" || runs[0].Error != "boom" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestAppendAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskforge.db")
	st := openTestStore(t, path)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendRun(context.Background(), RunEntry{TaskID: "late"}); err == nil {
		t.Fatal("AppendRun succeeded on closed store")
	}
}
