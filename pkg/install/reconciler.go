package install

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/manifest"
	"github.com/monoforge/monoforge/pkg/toolrunner"
	"github.com/monoforge/monoforge/pkg/workspace"
)

// Mode selects how much install work a reconcile is allowed to do.
type Mode string

const (
	// ModeNone means the install was already current and nothing ran.
	ModeNone Mode = "none"

	// ModeIncremental merges new or changed external dependencies into the
	// shared cache without regenerating the lock file. Fast local
	// iteration; a full reconcile is still owed before publishing.
	ModeIncremental Mode = "incremental"

	// ModeFull clears the cache, performs a clean install, regenerates the
	// lock file and promotes it to the committed location.
	ModeFull Mode = "full"
)

// Options configures one reconcile.
type Options struct {
	// Mode is incremental or full.
	Mode Mode

	// Force runs the install even when the marker says it is current.
	Force bool
}

// Result describes what a reconcile did.
type Result struct {
	// Mode is the mode that actually ran; ModeNone when skipped.
	Mode Mode `json:"mode"`

	// Packages is the external package count in the synthesized manifest.
	Packages int `json:"packages"`

	// Duration covers the whole reconcile.
	Duration time.Duration `json:"duration"`
}

// Reconciler drives the external package-manager tool. Single-threaded per
// run; callers must hold the repository guard.
type Reconciler struct {
	ws     *workspace.Workspace
	runner *toolrunner.Runner
	logger zerolog.Logger
}

// NewReconciler creates a reconciler for the workspace.
func NewReconciler(ws *workspace.Workspace, runner *toolrunner.Runner, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		ws:     ws,
		runner: runner,
		logger: logger.With().Str("component", "install").Logger(),
	}
}

// Reconcile brings the shared cache in line with the synthesized manifest.
// The manifest is persisted to the temp location first; if the install
// marker is newer than both the temp manifest and the committed lock file,
// nothing runs.
func (r *Reconciler) Reconcile(ctx context.Context, synthesized *manifest.Synthesized, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Mode != ModeIncremental && opts.Mode != ModeFull {
		return nil, engine.NewInternalError(
			fmt.Sprintf("unknown install mode %q", opts.Mode), nil)
	}

	if _, err := manifest.WriteTemp(r.ws.TempManifestPath(), synthesized); err != nil {
		return nil, err
	}

	current, err := r.installCurrent()
	if err != nil {
		return nil, err
	}
	if current && !opts.Force {
		r.logger.Info().Msg("install is current; nothing to do")
		return &Result{Mode: ModeNone, Packages: len(synthesized.Packages), Duration: time.Since(start)}, nil
	}

	switch opts.Mode {
	case ModeFull:
		err = r.fullInstall(ctx, synthesized)
	case ModeIncremental:
		err = r.incrementalInstall(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Mode:     opts.Mode,
		Packages: len(synthesized.Packages),
		Duration: time.Since(start),
	}, nil
}

// installCurrent applies the currency rule: marker mtime >= temp manifest
// mtime and >= committed lock mtime.
func (r *Reconciler) installCurrent() (bool, error) {
	marker, err := modTime(r.ws.InstallMarkerPath())
	if err != nil {
		return false, err
	}
	if marker.IsZero() {
		return false, nil
	}

	temp, err := manifest.ModTime(r.ws.TempManifestPath())
	if err != nil {
		return false, err
	}
	lock, err := modTime(r.ws.CommittedLockPath())
	if err != nil {
		return false, err
	}

	return !marker.Before(temp) && !marker.Before(lock), nil
}

// fullInstall performs a clean install: clear cache, install, regenerate the
// lock file, promote it, then refresh the marker. The marker is touched last
// so a crash mid-install never claims currency.
func (r *Reconciler) fullInstall(ctx context.Context, synthesized *manifest.Synthesized) error {
	pm := r.ws.Config.PackageManager

	r.logger.Info().Int("packages", len(synthesized.Packages)).Msg("starting full install")

	// Retire the marker before touching the cache: once the cache is cleared
	// the previous install no longer exists, and a failure below must not
	// leave a stale claim of currency.
	if err := os.Remove(r.ws.InstallMarkerPath()); err != nil && !os.IsNotExist(err) {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to remove install marker %s", r.ws.InstallMarkerPath()), err)
	}

	if err := os.RemoveAll(r.ws.CacheDir()); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to clear shared cache %s", r.ws.CacheDir()), err)
	}
	if len(pm.CleanArgs) > 0 {
		if _, err := r.runTool(ctx, pm.CleanArgs); err != nil {
			return err
		}
	}

	if synthesized.Empty() {
		// Nothing external remains: retire both lock files before claiming
		// currency.
		if err := os.Remove(r.ws.StagingLockPath()); err != nil && !os.IsNotExist(err) {
			return engine.NewFilesystemError(
				fmt.Sprintf("failed to remove staging lock file %s", r.ws.StagingLockPath()), err)
		}
		if err := RemoveCommittedLock(r.ws.CommittedLockPath()); err != nil {
			return err
		}
		return r.refreshMarker()
	}

	if _, err := r.runTool(ctx, pm.InstallArgs); err != nil {
		return err
	}
	if _, err := r.runTool(ctx, pm.LockArgs); err != nil {
		return err
	}

	if err := PromoteLock(r.ws.StagingLockPath(), r.ws.CommittedLockPath()); err != nil {
		return err
	}

	return r.refreshMarker()
}

// incrementalInstall merges changes into the cache and refreshes the marker.
// The committed lock file is deliberately left untouched.
func (r *Reconciler) incrementalInstall(ctx context.Context) error {
	r.logger.Info().Msg("starting incremental install")

	if _, err := r.runTool(ctx, r.ws.Config.PackageManager.InstallArgs); err != nil {
		return err
	}
	return r.refreshMarker()
}

// refreshMarker touches the install marker and then verifies it exists. An
// absent marker after a claimed-successful install means the tool's reported
// success disagrees with the filesystem.
func (r *Reconciler) refreshMarker() error {
	if err := TouchMarker(r.ws.InstallMarkerPath()); err != nil {
		return err
	}
	if _, err := os.Stat(r.ws.InstallMarkerPath()); err != nil {
		return engine.NewMissingArtifactError(
			fmt.Sprintf("install marker %s is absent after a successful install", r.ws.InstallMarkerPath()))
	}
	return nil
}

// runTool invokes the package manager in the temp folder with the
// workspace's environment overrides.
func (r *Reconciler) runTool(ctx context.Context, args []string) (*toolrunner.Result, error) {
	pm := r.ws.Config.PackageManager
	result, err := r.runner.Run(ctx, toolrunner.Spec{
		Command:    pm.Command,
		Args:       args,
		Dir:        r.ws.TempDir(),
		PathPrefix: pm.PathPrefix,
	})
	if err != nil {
		return result, err
	}
	return result, nil
}
