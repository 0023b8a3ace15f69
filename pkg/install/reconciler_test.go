package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/manifest"
	"github.com/monoforge/monoforge/pkg/toolrunner"
	"github.com/monoforge/monoforge/pkg/workspace"
)

// fakeTool is a stand-in package manager. It mimics the contract the
// reconciler depends on: install populates the cache, lock writes the
// staging lock file in the working directory.
const fakeTool = `#!/bin/sh
[ -e fail.flag ] && { echo "forced failure" >&2; exit 1; }
case "$1" in
  install) mkdir -p node_modules && touch node_modules/.installed ;;
  lock) printf '{"lockfileVersion":3}\n' > package-lock.json ;;
  clean) : ;;
  *) echo "unknown verb $1" >&2; exit 2 ;;
esac
`

func newTestReconciler(t *testing.T, tool string) (*workspace.Workspace, *Reconciler) {
	t.Helper()
	root := t.TempDir()

	toolPath := filepath.Join(root, "fakepm")
	if err := os.WriteFile(toolPath, []byte(tool), 0o755); err != nil {
		t.Fatalf("write tool failed: %v", err)
	}

	ws := &workspace.Workspace{
		Root: root,
		Config: &workspace.Config{
			PackageManager: workspace.PackageManagerConfig{
				Command:     toolPath,
				InstallArgs: []string{"install"},
				LockArgs:    []string{"lock"},
				CleanArgs:   []string{"clean"},
			},
		},
	}
	return ws, NewReconciler(ws, toolrunner.New(zerolog.Nop()), zerolog.Nop())
}

func synthesized(packages map[string]string) *manifest.Synthesized {
	return &manifest.Synthesized{Packages: packages}
}

func TestReconcile_FullInstall(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()

	result, err := r.Reconcile(ctx, synthesized(map[string]string{"lodash": "4.17.21"}), Options{Mode: ModeFull})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeFull || result.Packages != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	if _, err := os.Stat(ws.TempManifestPath()); err != nil {
		t.Error("temp manifest not written")
	}
	if _, err := os.Stat(ws.CommittedLockPath()); err != nil {
		t.Error("lock file not promoted to the repository root")
	}
	if _, err := os.Stat(ws.InstallMarkerPath()); err != nil {
		t.Error("install marker not created")
	}
	if _, err := os.Stat(filepath.Join(ws.CacheDir(), ".installed")); err != nil {
		t.Error("tool did not populate the cache")
	}
}

func TestReconcile_SkipsWhenCurrent(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()
	packages := synthesized(map[string]string{"lodash": "4.17.21"})

	if _, err := r.Reconcile(ctx, packages, Options{Mode: ModeFull}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	// Unchanged manifest: the marker is newer than both inputs.
	result, err := r.Reconcile(ctx, packages, Options{Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeNone {
		t.Errorf("expected skip, got %s", result.Mode)
	}

	// Force always runs.
	result, err = r.Reconcile(ctx, packages, Options{Mode: ModeIncremental, Force: true})
	if err != nil {
		t.Fatalf("forced reconcile failed: %v", err)
	}
	if result.Mode != ModeIncremental {
		t.Errorf("expected forced incremental run, got %s", result.Mode)
	}
	if _, err := os.Stat(ws.CommittedLockPath()); err != nil {
		t.Error("forced incremental run must not remove the committed lock")
	}
}

func TestReconcile_ChangedManifestRunsAgain(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, synthesized(map[string]string{"lodash": "4.17.21"}), Options{Mode: ModeFull}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	lockBefore, err := os.ReadFile(ws.CommittedLockPath())
	if err != nil {
		t.Fatalf("read lock failed: %v", err)
	}

	// The manifest rewrite bumps its mtime past the marker. Filesystem
	// timestamps can be coarse, so give them a beat.
	time.Sleep(20 * time.Millisecond)
	result, err := r.Reconcile(ctx,
		synthesized(map[string]string{"lodash": "4.17.21", "left-pad": "1.3.0"}),
		Options{Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeIncremental {
		t.Errorf("expected incremental run, got %s", result.Mode)
	}

	// Incremental mode leaves the committed lock file alone.
	lockAfter, err := os.ReadFile(ws.CommittedLockPath())
	if err != nil {
		t.Fatalf("read lock failed: %v", err)
	}
	if string(lockBefore) != string(lockAfter) {
		t.Error("incremental install touched the committed lock file")
	}
}

func TestReconcile_NewerCommittedLockForcesRun(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()
	packages := synthesized(map[string]string{"lodash": "4.17.21"})

	if _, err := r.Reconcile(ctx, packages, Options{Mode: ModeFull}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	// A teammate's pulled lock file is newer than the local marker.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(ws.CommittedLockPath(), future, future); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}

	result, err := r.Reconcile(ctx, packages, Options{Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeIncremental {
		t.Errorf("expected run after lock update, got %s", result.Mode)
	}
}

func TestReconcile_EmptyManifestRetiresLockFiles(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, synthesized(map[string]string{"lodash": "4.17.21"}), Options{Mode: ModeFull}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	result, err := r.Reconcile(ctx, synthesized(nil), Options{Mode: ModeFull})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeFull || result.Packages != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	if _, err := os.Stat(ws.CommittedLockPath()); !os.IsNotExist(err) {
		t.Error("committed lock file should be retired with an empty manifest")
	}
	if _, err := os.Stat(ws.StagingLockPath()); !os.IsNotExist(err) {
		t.Error("staging lock file should be retired with an empty manifest")
	}
	if _, err := os.Stat(ws.InstallMarkerPath()); err != nil {
		t.Error("marker should still claim currency")
	}
}

func TestReconcile_FailedFullInstallDropsCurrency(t *testing.T) {
	ws, r := newTestReconciler(t, fakeTool)
	ctx := context.Background()
	packages := synthesized(map[string]string{"lodash": "4.17.21"})

	if _, err := r.Reconcile(ctx, packages, Options{Mode: ModeFull}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	// The forced full install clears the cache and then fails. The marker
	// from the first install must not survive it.
	failFlag := filepath.Join(ws.TempDir(), "fail.flag")
	if err := os.WriteFile(failFlag, nil, 0o644); err != nil {
		t.Fatalf("write fail flag failed: %v", err)
	}
	if _, err := r.Reconcile(ctx, packages, Options{Mode: ModeFull, Force: true}); !engine.IsExternalTool(err) {
		t.Fatalf("expected external-tool error, got %v", err)
	}
	if _, err := os.Stat(ws.InstallMarkerPath()); !os.IsNotExist(err) {
		t.Fatal("marker must be retired before the cache is cleared")
	}

	// With the tool healthy again a plain reconcile must run, not skip.
	if err := os.Remove(failFlag); err != nil {
		t.Fatalf("remove fail flag failed: %v", err)
	}
	result, err := r.Reconcile(ctx, packages, Options{Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Mode != ModeIncremental {
		t.Errorf("expected a real install after the failed full run, got %s", result.Mode)
	}
}

func TestReconcile_ToolFailure(t *testing.T) {
	_, r := newTestReconciler(t, "#!/bin/sh\necho kaboom >&2\nexit 1\n")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, synthesized(map[string]string{"lodash": "4.17.21"}), Options{Mode: ModeFull})
	if !engine.IsExternalTool(err) {
		t.Fatalf("expected external-tool error, got %v", err)
	}
}

func TestReconcile_MissingLockAfterInstall(t *testing.T) {
	// A tool that claims success but never writes the staging lock file.
	_, r := newTestReconciler(t, "#!/bin/sh\nexit 0\n")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, synthesized(map[string]string{"lodash": "4.17.21"}), Options{Mode: ModeFull})
	if !engine.IsMissingArtifact(err) {
		t.Fatalf("expected missing-artifact error, got %v", err)
	}
}

func TestReconcile_UnknownMode(t *testing.T) {
	_, r := newTestReconciler(t, fakeTool)

	if _, err := r.Reconcile(context.Background(), synthesized(nil), Options{Mode: "sideways"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
