// Package workspace loads the project registry: the workspace configuration
// file plus every project's manifest. The registry is read-only for the rest
// of a run.
package workspace

import (
	"path/filepath"

	"github.com/monoforge/monoforge/pkg/engine"
)

// ConfigFileName is the workspace configuration file at the repository root.
const ConfigFileName = "monoforge.cue"

// ManifestFileName is the per-project manifest file.
const ManifestFileName = "package.json"

// LockFileName is the lock file name used in both the staging and committed
// locations.
const LockFileName = "package-lock.json"

// PackageManagerConfig is the argument contract for the external
// package-manager subprocess.
type PackageManagerConfig struct {
	// Command is the package-manager binary.
	Command string `json:"command" validate:"required"`

	// InstallArgs performs a bulk install against the temp folder.
	InstallArgs []string `json:"installArgs,omitempty"`

	// LockArgs regenerates the lock file without installing.
	LockArgs []string `json:"lockArgs,omitempty"`

	// CleanArgs cleans the tool's own cache.
	CleanArgs []string `json:"cleanArgs,omitempty"`

	// PathPrefix is prepended to PATH for every tool invocation, without
	// mutating the ambient process environment.
	PathPrefix string `json:"pathPrefix,omitempty"`
}

// ProjectRef is one project declaration in the workspace config.
type ProjectRef struct {
	// Folder is the project folder, relative to the repository root.
	Folder string `json:"folder" validate:"required"`

	// ReviewCategory is the governance category for the project.
	ReviewCategory string `json:"reviewCategory,omitempty"`
}

// Config is the parsed workspace configuration.
type Config struct {
	// ResolutionStrategy picks the winner among overlapping external ranges.
	ResolutionStrategy string `json:"resolutionStrategy,omitempty" validate:"omitempty,oneof=lowest highest"`

	// AllowMismatchedInternalRanges disables the internal version
	// compatibility check during linking.
	AllowMismatchedInternalRanges bool `json:"allowMismatchedInternalRanges,omitempty"`

	// ResolutionFolder is the per-project dependency resolution folder name.
	ResolutionFolder string `json:"resolutionFolder,omitempty"`

	// GovernancePolicy is an optional Rego policy path, relative to the
	// repository root.
	GovernancePolicy string `json:"governancePolicy,omitempty"`

	// Selector is an optional Starlark script path that narrows which
	// projects a build run includes.
	Selector string `json:"selector,omitempty"`

	// PackageManager configures the external tool.
	PackageManager PackageManagerConfig `json:"packageManager" validate:"required"`

	// Projects lists every project in the monorepo.
	Projects []ProjectRef `json:"projects" validate:"required,min=1,dive"`
}

// Workspace is the loaded registry: configuration plus project records.
type Workspace struct {
	// Root is the absolute repository root path.
	Root string

	// Config is the parsed workspace configuration.
	Config *Config

	// Projects are the loaded project records in config order.
	Projects []engine.Project
}

// CommonDir is the repository-global state folder.
func (w *Workspace) CommonDir() string {
	return filepath.Join(w.Root, "common")
}

// TempDir holds per-run synthesized state: the temp manifest, the shared
// cache, the staging lock file and the install marker.
func (w *Workspace) TempDir() string {
	return filepath.Join(w.CommonDir(), "temp")
}

// TempManifestPath is the synthesized manifest location.
func (w *Workspace) TempManifestPath() string {
	return filepath.Join(w.TempDir(), ManifestFileName)
}

// CacheDir is the shared external dependency cache.
func (w *Workspace) CacheDir() string {
	return filepath.Join(w.TempDir(), w.resolutionFolder())
}

// StagingLockPath is where the tool writes the lock file during install.
func (w *Workspace) StagingLockPath() string {
	return filepath.Join(w.TempDir(), LockFileName)
}

// CommittedLockPath is the lock file's committed location at the repository
// root.
func (w *Workspace) CommittedLockPath() string {
	return filepath.Join(w.Root, LockFileName)
}

// InstallMarkerPath is the sentinel whose mtime records install currency.
func (w *Workspace) InstallMarkerPath() string {
	return filepath.Join(w.TempDir(), "last-install.flag")
}

// RepoLockPath is the exclusive lock guarding install and link operations.
func (w *Workspace) RepoLockPath() string {
	return filepath.Join(w.TempDir(), "monoforge.lock")
}

// ApprovedPackagesPath is the governance file location.
func (w *Workspace) ApprovedPackagesPath() string {
	return filepath.Join(w.CommonDir(), "config", "approved-packages.yaml")
}

// ProjectLinkDir is a project's dependency resolution folder, where links
// are created.
func (w *Workspace) ProjectLinkDir(p *engine.Project) string {
	return filepath.Join(p.Folder, w.resolutionFolder())
}

// LinkFingerprintPath is the per-project marker recording the hash of the
// last-applied link plan.
func (w *Workspace) LinkFingerprintPath(p *engine.Project) string {
	return filepath.Join(w.ProjectLinkDir(p), ".monoforge-link")
}

// HistoryDBPath is the sqlite build-history database.
func (w *Workspace) HistoryDBPath() string {
	return filepath.Join(w.TempDir(), "history.db")
}

func (w *Workspace) resolutionFolder() string {
	if w.Config != nil && w.Config.ResolutionFolder != "" {
		return w.Config.ResolutionFolder
	}
	return "node_modules"
}
