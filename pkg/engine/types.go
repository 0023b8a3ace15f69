package engine

import (
	"time"
)

// Project is one buildable unit in the monorepo. Projects are immutable after
// the registry is loaded for a run.
type Project struct {
	// Name is the unique project name as declared in its manifest.
	Name string `json:"name" validate:"required"`

	// Version is the project's own declared version.
	Version string `json:"version" validate:"required"`

	// Folder is the absolute path to the project folder.
	Folder string `json:"folder" validate:"required"`

	// Dependencies are the declared dependencies in manifest order.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// ReviewCategory is the governance category the project belongs to.
	ReviewCategory string `json:"review_category,omitempty"`

	// BuildCommand is the shell command that builds the project. Empty means
	// the project has nothing to build and its task succeeds immediately.
	BuildCommand string `json:"build_command,omitempty"`
}

// Dependency is one declared dependency of a project: a name and the version
// range the project will accept.
type Dependency struct {
	Name  string `json:"name" validate:"required"`
	Range string `json:"range" validate:"required"`
}

// EdgeKind distinguishes dependency edges resolved inside the repository from
// edges satisfied by the external package manager.
type EdgeKind string

const (
	// EdgeInternal is a dependency on another registered project.
	EdgeInternal EdgeKind = "internal"

	// EdgeExternal is a dependency fetched from outside the monorepo.
	EdgeExternal EdgeKind = "external"
)

// Edge is one classified dependency edge.
type Edge struct {
	// From is the consuming project's name.
	From string `json:"from"`

	// Name is the dependency name.
	Name string `json:"name"`

	// Range is the version range the consumer declared.
	Range string `json:"range"`

	// Kind is internal or external.
	Kind EdgeKind `json:"kind"`
}

// Graph is the computed dependency graph for one run. Nodes and edges are
// keyed by project name rather than held as object references so the graph is
// serializable and diffable without filesystem access.
type Graph struct {
	// Projects maps project name to its registry record.
	Projects map[string]*Project `json:"projects"`

	// Order is the topological order: every project appears strictly after
	// all of its internal dependencies. Ties are broken by name.
	Order []string `json:"order"`

	// Internal maps a project name to its direct internal dependency names,
	// sorted for determinism.
	Internal map[string][]string `json:"internal"`

	// Dependents maps a project name to the names of projects that depend on
	// it, sorted for determinism.
	Dependents map[string][]string `json:"dependents"`

	// External holds every external dependency edge, ordered by consumer
	// name then dependency name.
	External []Edge `json:"external"`
}

// TaskState is the lifecycle state of one build task.
type TaskState string

const (
	// TaskPending means upstream tasks have not all finished yet.
	TaskPending TaskState = "pending"

	// TaskReady means every upstream task succeeded and the task is queued.
	TaskReady TaskState = "ready"

	// TaskRunning means the task's build command is executing.
	TaskRunning TaskState = "running"

	// TaskSucceeded means the build command exited zero.
	TaskSucceeded TaskState = "succeeded"

	// TaskCached means the task was skipped because its input fingerprint
	// matched the last successful run. Counts as success.
	TaskCached TaskState = "cached"

	// TaskFailed means the build command failed or timed out.
	TaskFailed TaskState = "failed"

	// TaskSkipped means an upstream task failed so this task never ran.
	TaskSkipped TaskState = "skipped"
)

// IsTerminal returns true once a task can no longer change state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskCached, TaskFailed, TaskSkipped:
		return true
	}
	return false
}

// BuildTask tracks the execution of one project's build command. Task state
// is created fresh per scheduler invocation and discarded after the run's
// report is produced.
type BuildTask struct {
	// Project is the name of the project this task builds.
	Project string `json:"project"`

	// Command is the shell command executed for the task.
	Command string `json:"command"`

	// State is the current task state.
	State TaskState `json:"state"`

	// Error holds the failure, if the task failed.
	Error error `json:"-"`

	// StartedAt is when the task started running.
	StartedAt time.Time `json:"started_at,omitempty"`

	// Duration is how long the task ran.
	Duration time.Duration `json:"duration,omitempty"`
}

// RunReport summarizes one scheduler run.
type RunReport struct {
	// RunID identifies the run in logs and the history store.
	RunID string `json:"run_id"`

	// Total is the number of tasks in the run.
	Total int `json:"total"`

	// Succeeded counts tasks whose build command exited zero.
	Succeeded int `json:"succeeded"`

	// Cached counts tasks satisfied from the build cache.
	Cached int `json:"cached"`

	// Failed counts tasks that failed or timed out.
	Failed int `json:"failed"`

	// Skipped counts tasks skipped because an upstream task failed.
	Skipped int `json:"skipped"`

	// StartedAt and Duration bound the whole run.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Tasks holds the per-task outcomes in topological order.
	Tasks []BuildTask `json:"tasks"`
}

// OK reports whether the run as a whole succeeded. Any failed task makes the
// run fail.
func (r *RunReport) OK() bool {
	return r.Failed == 0
}
