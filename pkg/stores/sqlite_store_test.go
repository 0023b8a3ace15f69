package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/monoforge/monoforge/pkg/engine"
)

func setupTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport(runID string, startedAt time.Time) *engine.RunReport {
	return &engine.RunReport{
		RunID:     runID,
		Total:     3,
		Succeeded: 1,
		Cached:    1,
		Failed:    1,
		StartedAt: startedAt,
		Duration:  4200 * time.Millisecond,
		Tasks: []engine.BuildTask{
			{Project: "core", State: engine.TaskCached},
			{Project: "app", State: engine.TaskSucceeded, Duration: 3 * time.Second},
			{Project: "site", State: engine.TaskFailed, Error: errors.New("tsc exited with 2")},
		},
	}
}

func TestNewHistoryStore_RequiresPath(t *testing.T) {
	if _, err := NewHistoryStore(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSaveReportAndListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("run-1", started)); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if run.ID != "run-1" {
		t.Errorf("expected run-1, got %s", run.ID)
	}
	if run.Total != 3 || run.Succeeded != 1 || run.Cached != 1 || run.Failed != 1 {
		t.Errorf("unexpected counters: %+v", run)
	}
	if run.OK {
		t.Error("a run with a failed task must not be OK")
	}
	if run.Duration != 4200*time.Millisecond {
		t.Errorf("expected 4.2s duration, got %s", run.Duration)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("expected start %s, got %s", started, run.StartedAt)
	}
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		report := sampleReport(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveReport(ctx, report); err != nil {
			t.Fatalf("failed to save report %d: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, 3)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, runs[i].ID)
		}
	}
}

func TestSaveReport_DuplicateRunID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1", time.Now())
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if err := store.SaveReport(ctx, report); err == nil {
		t.Fatal("expected error for duplicate run id")
	}
}

func TestFingerprints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fp, err := store.LastFingerprint(ctx, "core")
	if err != nil {
		t.Fatalf("failed to query fingerprint: %v", err)
	}
	if fp != "" {
		t.Errorf("expected empty fingerprint for unknown project, got %q", fp)
	}

	if err := store.SaveFingerprint(ctx, "core", "abc123"); err != nil {
		t.Fatalf("failed to save fingerprint: %v", err)
	}
	fp, err = store.LastFingerprint(ctx, "core")
	if err != nil {
		t.Fatalf("failed to query fingerprint: %v", err)
	}
	if fp != "abc123" {
		t.Errorf("expected abc123, got %q", fp)
	}

	// Saving again upserts rather than inserting a second row.
	if err := store.SaveFingerprint(ctx, "core", "def456"); err != nil {
		t.Fatalf("failed to update fingerprint: %v", err)
	}
	fp, err = store.LastFingerprint(ctx, "core")
	if err != nil {
		t.Fatalf("failed to query fingerprint: %v", err)
	}
	if fp != "def456" {
		t.Errorf("expected def456 after upsert, got %q", fp)
	}
}

func TestClearFingerprints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, project := range []string{"core", "app"} {
		if err := store.SaveFingerprint(ctx, project, "abc123"); err != nil {
			t.Fatalf("failed to save fingerprint: %v", err)
		}
	}
	if err := store.ClearFingerprints(ctx); err != nil {
		t.Fatalf("failed to clear fingerprints: %v", err)
	}

	for _, project := range []string{"core", "app"} {
		fp, err := store.LastFingerprint(ctx, project)
		if err != nil {
			t.Fatalf("failed to query fingerprint: %v", err)
		}
		if fp != "" {
			t.Errorf("expected cleared fingerprint for %s, got %q", project, fp)
		}
	}
}
