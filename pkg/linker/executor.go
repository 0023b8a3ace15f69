package linker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/workspace"
)

// ApplyStatus reports what applying one project's plan did.
type ApplyStatus string

const (
	// StatusLinked means links were created, replaced or removed.
	StatusLinked ApplyStatus = "linked"

	// StatusUnchanged means the fingerprint matched and nothing was touched.
	StatusUnchanged ApplyStatus = "unchanged"
)

// Executor applies and reverses link plans. Single-threaded per run; callers
// must hold the repository guard.
type Executor struct {
	ws     *workspace.Workspace
	logger zerolog.Logger
}

// NewExecutor creates an executor for the workspace.
func NewExecutor(ws *workspace.Workspace, logger zerolog.Logger) *Executor {
	return &Executor{
		ws:     ws,
		logger: logger.With().Str("component", "linker").Logger(),
	}
}

// Apply brings one project's resolution folder in line with its plan:
// removes stale links first, then creates or fixes the planned ones, and
// finally records the plan fingerprint. Reapplying an unchanged plan
// performs zero filesystem mutations unless force is set.
func (e *Executor) Apply(plan *Plan, force bool) (ApplyStatus, error) {
	p, ok := e.project(plan.Project)
	if !ok {
		return "", engine.NewConfigError(
			fmt.Sprintf("unknown project: %s", plan.Project), nil).WithSubject(plan.Project)
	}

	fingerprintPath := e.ws.LinkFingerprintPath(p)
	fingerprint := plan.Fingerprint()

	if !force {
		last, err := readFingerprint(fingerprintPath)
		if err != nil {
			return "", err
		}
		if last != "" && last == fingerprint {
			e.logger.Debug().Str("project", plan.Project).Msg("links up to date")
			return StatusUnchanged, nil
		}
	}

	linkDir := e.ws.ProjectLinkDir(p)
	if err := os.MkdirAll(linkDir, 0o755); err != nil {
		return "", engine.NewFilesystemError(
			fmt.Sprintf("failed to create %s", linkDir), err).WithSubject(plan.Project)
	}

	// Stale links left by renamed or removed dependencies alias the wrong
	// target; clear them before creating the current set.
	if err := e.removeStale(linkDir, plan); err != nil {
		return "", err
	}

	for _, entry := range plan.Entries {
		if err := e.ensureLink(plan.Project, entry); err != nil {
			return "", err
		}
	}

	if err := writeFingerprint(fingerprintPath, fingerprint); err != nil {
		return "", err
	}

	e.logger.Info().
		Str("project", plan.Project).
		Int("links", len(plan.Entries)).
		Msg("project linked")
	return StatusLinked, nil
}

// Unlink removes every link and the fingerprint marker for one project. It
// is idempotent: running on an already-unlinked project reports nothing to
// do. Returns whether anything was removed.
func (e *Executor) Unlink(projectName string) (bool, error) {
	p, ok := e.project(projectName)
	if !ok {
		return false, engine.NewConfigError(
			fmt.Sprintf("unknown project: %s", projectName), nil).WithSubject(projectName)
	}

	linkDir := e.ws.ProjectLinkDir(p)
	entries, err := os.ReadDir(linkDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, engine.NewFilesystemError(
			fmt.Sprintf("failed to read %s", linkDir), err).WithSubject(projectName)
	}

	changed := false
	for _, entry := range entries {
		full := filepath.Join(linkDir, entry.Name())
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		if err := os.Remove(full); err != nil {
			return changed, engine.NewFilesystemError(
				fmt.Sprintf("failed to remove link %s", full), err).WithSubject(projectName)
		}
		changed = true
	}

	fingerprintPath := e.ws.LinkFingerprintPath(p)
	if _, err := os.Stat(fingerprintPath); err == nil {
		if err := removeFingerprint(fingerprintPath); err != nil {
			return changed, err
		}
		changed = true
	}

	if changed {
		e.logger.Info().Str("project", projectName).Msg("project unlinked")
	} else {
		e.logger.Debug().Str("project", projectName).Msg("nothing to unlink")
	}
	return changed, nil
}

// removeStale deletes symlinks in the resolution folder that no current plan
// entry accounts for.
func (e *Executor) removeStale(linkDir string, plan *Plan) error {
	planned := make(map[string]bool, len(plan.Entries))
	for _, entry := range plan.Entries {
		planned[entry.Name] = true
	}

	entries, err := os.ReadDir(linkDir)
	if err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to read %s", linkDir), err).WithSubject(plan.Project)
	}

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 || planned[entry.Name()] {
			continue
		}
		full := filepath.Join(linkDir, entry.Name())
		if err := os.Remove(full); err != nil {
			return engine.NewFilesystemError(
				fmt.Sprintf("failed to remove stale link %s", full), err).WithSubject(plan.Project)
		}
		e.logger.Debug().Str("project", plan.Project).Str("link", entry.Name()).Msg("removed stale link")
	}
	return nil
}

// ensureLink makes the entry's source a symlink to its target, replacing a
// wrong-target link in place and leaving a correct one untouched.
func (e *Executor) ensureLink(project string, entry PlanEntry) error {
	current, err := os.Readlink(entry.Source)
	if err == nil && current == entry.Target {
		return nil
	}
	if err == nil || !os.IsNotExist(err) {
		// Either a wrong-target link or some non-link object in the slot.
		if removeErr := os.Remove(entry.Source); removeErr != nil && !os.IsNotExist(removeErr) {
			return engine.NewFilesystemError(
				fmt.Sprintf("failed to replace %s", entry.Source), removeErr).WithSubject(project)
		}
	}

	if err := os.Symlink(entry.Target, entry.Source); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to link %s -> %s", entry.Source, entry.Target), err).
			WithSubject(project).
			WithDetail("kind", string(entry.Kind))
	}
	return nil
}

// project resolves a workspace project record by name.
func (e *Executor) project(name string) (*engine.Project, bool) {
	for i := range e.ws.Projects {
		if e.ws.Projects[i].Name == name {
			return &e.ws.Projects[i], true
		}
	}
	return nil, false
}
