package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.ObserveRun("succeeded", 2*time.Second)
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "monoforge_runs_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected monoforge_runs_total in registry output")
	}
}

func TestObserveRun(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})

	m.ObserveRun("succeeded", time.Second)
	m.ObserveRun("succeeded", time.Second)
	m.ObserveRun("failed", time.Second)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("expected 2 succeeded runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
}

func TestObserveTask_SkipsZeroDuration(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})

	// Cached and skipped tasks report zero duration; only the counter moves.
	m.ObserveTask("core", "cached", 0)
	m.ObserveTask("app", "succeeded", 3*time.Second)

	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues("cached")); got != 1 {
		t.Errorf("expected 1 cached task, got %v", got)
	}
	if got := testutil.CollectAndCount(m.TaskDuration); got != 1 {
		t.Errorf("expected 1 duration series, got %d", got)
	}
}

func TestObserveInstall(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})

	m.ObserveInstall("full", 30*time.Second)
	m.ObserveInstall("incremental", 5*time.Second)
	m.ObserveInstall("incremental", 4*time.Second)

	if got := testutil.ToFloat64(m.InstallsTotal.WithLabelValues("incremental")); got != 2 {
		t.Errorf("expected 2 incremental installs, got %v", got)
	}
}
