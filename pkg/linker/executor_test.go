package linker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/workspace"
)

// linkedWorkspace builds a workspace on disk with real project folders and a
// populated shared cache, ready for the executor.
func linkedWorkspace(t *testing.T) (*workspace.Workspace, *engine.Graph) {
	t.Helper()
	ws, graph := testWorkspace(t,
		engine.Project{Name: "core", Version: "1.0.0"},
		engine.Project{
			Name: "app", Version: "1.0.0",
			Dependencies: []engine.Dependency{
				{Name: "core", Range: "^1.0.0"},
				{Name: "lodash", Range: "^4.17.0"},
			},
		},
	)

	for _, p := range ws.Projects {
		if err := os.MkdirAll(p.Folder, 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(ws.CacheDir(), "lodash"), 0o755); err != nil {
		t.Fatalf("mkdir cache failed: %v", err)
	}
	return ws, graph
}

func mustPlan(t *testing.T, ws *workspace.Workspace, graph *engine.Graph, name string) *Plan {
	t.Helper()
	plan, err := NewPlanner(ws, graph, false).PlanProject(name)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	return plan
}

func TestExecutor_ApplyCreatesLinks(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())
	plan := mustPlan(t, ws, graph, "app")

	status, err := executor.Apply(plan, false)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if status != StatusLinked {
		t.Fatalf("expected linked status, got %s", status)
	}

	appDir := ws.ProjectLinkDir(graph.Projects["app"])

	coreLink, err := os.Readlink(filepath.Join(appDir, "core"))
	if err != nil {
		t.Fatalf("core link missing: %v", err)
	}
	if coreLink != graph.Projects["core"].Folder {
		t.Errorf("core link targets %q", coreLink)
	}

	lodashLink, err := os.Readlink(filepath.Join(appDir, "lodash"))
	if err != nil {
		t.Fatalf("lodash link missing: %v", err)
	}
	if lodashLink != filepath.Join(ws.CacheDir(), "lodash") {
		t.Errorf("lodash link targets %q", lodashLink)
	}
}

func TestExecutor_ReapplyIsIdempotent(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())
	plan := mustPlan(t, ws, graph, "app")

	if _, err := executor.Apply(plan, false); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	status, err := executor.Apply(plan, false)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if status != StatusUnchanged {
		t.Errorf("unchanged plan should short-circuit, got %s", status)
	}

	// Force reapplies even with a matching fingerprint.
	status, err = executor.Apply(plan, true)
	if err != nil {
		t.Fatalf("forced apply failed: %v", err)
	}
	if status != StatusLinked {
		t.Errorf("force should reapply, got %s", status)
	}
}

func TestExecutor_RemovesStaleLinks(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())

	appDir := ws.ProjectLinkDir(graph.Projects["app"])
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	stale := filepath.Join(appDir, "removed-dep")
	if err := os.Symlink(filepath.Join(ws.CacheDir(), "removed-dep"), stale); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	// A plain file in the folder is not ours to delete.
	regular := filepath.Join(appDir, ".keep")
	if err := os.WriteFile(regular, nil, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := executor.Apply(mustPlan(t, ws, graph, "app"), false); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if _, err := os.Lstat(stale); !os.IsNotExist(err) {
		t.Error("stale link survived apply")
	}
	if _, err := os.Stat(regular); err != nil {
		t.Error("apply must not remove regular files")
	}
}

func TestExecutor_RepairsWrongTarget(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())

	appDir := ws.ProjectLinkDir(graph.Projects["app"])
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.Symlink("/the/wrong/place", filepath.Join(appDir, "lodash")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	if _, err := executor.Apply(mustPlan(t, ws, graph, "app"), false); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	target, err := os.Readlink(filepath.Join(appDir, "lodash"))
	if err != nil {
		t.Fatalf("readlink failed: %v", err)
	}
	if target != filepath.Join(ws.CacheDir(), "lodash") {
		t.Errorf("wrong-target link not repaired: %q", target)
	}
}

func TestExecutor_UnlinkIsIdempotent(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())

	if _, err := executor.Apply(mustPlan(t, ws, graph, "app"), false); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	changed, err := executor.Unlink("app")
	if err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if !changed {
		t.Error("first unlink should report removals")
	}

	appDir := ws.ProjectLinkDir(graph.Projects["app"])
	if _, err := os.Lstat(filepath.Join(appDir, "core")); !os.IsNotExist(err) {
		t.Error("core link survived unlink")
	}
	if _, err := os.Stat(ws.LinkFingerprintPath(graph.Projects["app"])); !os.IsNotExist(err) {
		t.Error("fingerprint marker survived unlink")
	}

	// Second unlink: nothing to do.
	changed, err = executor.Unlink("app")
	if err != nil {
		t.Fatalf("second unlink failed: %v", err)
	}
	if changed {
		t.Error("second unlink should be a no-op")
	}

	// Unlink a never-linked project: also a no-op.
	changed, err = executor.Unlink("core")
	if err != nil {
		t.Fatalf("unlink of unlinked project failed: %v", err)
	}
	if changed {
		t.Error("unlinked project should report nothing to do")
	}
}

func TestExecutor_UnlinkThenApplyRelinks(t *testing.T) {
	ws, graph := linkedWorkspace(t)
	executor := NewExecutor(ws, zerolog.Nop())
	plan := mustPlan(t, ws, graph, "app")

	if _, err := executor.Apply(plan, false); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := executor.Unlink("app"); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}

	// The fingerprint is gone, so the same plan must apply again.
	status, err := executor.Apply(plan, false)
	if err != nil {
		t.Fatalf("reapply failed: %v", err)
	}
	if status != StatusLinked {
		t.Errorf("expected relink after unlink, got %s", status)
	}
}
