// Package linker makes each project resolve its internal dependencies to
// sibling project folders and its external dependencies to the shared cache,
// without duplicating files. Planning is pure; applying a plan is the only
// part that touches the filesystem.
package linker

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/workspace"
)

// EntryKind distinguishes links to sibling projects from links into the
// shared external cache.
type EntryKind string

const (
	// KindProjectLink points a dependency slot at a sibling project folder.
	KindProjectLink EntryKind = "project-link"

	// KindExternalLink points a dependency slot at the shared cache copy.
	KindExternalLink EntryKind = "external-link"
)

// PlanEntry is one link to create: Source is the link location inside the
// consumer's resolution folder, Target is what it points at.
type PlanEntry struct {
	Name   string    `json:"name"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Kind   EntryKind `json:"kind"`
}

// Plan is the full set of links one project needs, sorted by dependency
// name. Pure data; applying it is the executor's job.
type Plan struct {
	Project string      `json:"project"`
	Entries []PlanEntry `json:"entries"`
}

// Planner computes link plans from the dependency graph.
type Planner struct {
	ws              *workspace.Workspace
	graph           *engine.Graph
	allowMismatched bool
}

// NewPlanner creates a planner. When allowMismatched is set, internal
// version range mismatches are tolerated instead of fatal.
func NewPlanner(ws *workspace.Workspace, graph *engine.Graph, allowMismatched bool) *Planner {
	return &Planner{ws: ws, graph: graph, allowMismatched: allowMismatched}
}

// PlanAll computes a plan per project in topological order.
func (p *Planner) PlanAll() ([]Plan, error) {
	plans := make([]Plan, 0, len(p.graph.Order))
	for _, name := range p.graph.Order {
		plan, err := p.PlanProject(name)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, nil
}

// PlanProject computes one project's link plan. Internal dependencies whose
// requested range the sibling's own version does not satisfy are a version
// conflict unless the override policy is set.
func (p *Planner) PlanProject(name string) (*Plan, error) {
	project, ok := p.graph.Projects[name]
	if !ok {
		return nil, engine.NewConfigError(fmt.Sprintf("unknown project: %s", name), nil).
			WithSubject(name).WithOperation("link")
	}

	linkDir := p.ws.ProjectLinkDir(project)
	plan := &Plan{Project: name, Entries: make([]PlanEntry, 0, len(project.Dependencies))}

	for _, dep := range project.Dependencies {
		if sibling, internal := p.graph.Projects[dep.Name]; internal {
			if err := p.checkInternalRange(project, sibling, dep.Range); err != nil {
				return nil, err
			}
			plan.Entries = append(plan.Entries, PlanEntry{
				Name:   dep.Name,
				Source: filepath.Join(linkDir, dep.Name),
				Target: sibling.Folder,
				Kind:   KindProjectLink,
			})
			continue
		}

		plan.Entries = append(plan.Entries, PlanEntry{
			Name:   dep.Name,
			Source: filepath.Join(linkDir, dep.Name),
			Target: filepath.Join(p.ws.CacheDir(), dep.Name),
			Kind:   KindExternalLink,
		})
	}

	sort.Slice(plan.Entries, func(i, j int) bool {
		return plan.Entries[i].Name < plan.Entries[j].Name
	})
	return plan, nil
}

// checkInternalRange verifies the consumer's declared range accepts the
// sibling project's own version.
func (p *Planner) checkInternalRange(consumer, sibling *engine.Project, declared string) error {
	if p.allowMismatched {
		return nil
	}

	constraint, err := semver.NewConstraint(declared)
	if err != nil {
		return engine.NewConfigError(
			fmt.Sprintf("project %s declares invalid range %q for %s", consumer.Name, declared, sibling.Name), err).
			WithSubject(consumer.Name).WithOperation("link")
	}
	version, err := semver.NewVersion(sibling.Version)
	if err != nil {
		return engine.NewConfigError(
			fmt.Sprintf("project %s has invalid version %q", sibling.Name, sibling.Version), err).
			WithSubject(sibling.Name).WithOperation("link")
	}

	if !constraint.Check(version) {
		return engine.NewVersionConflictError(
			fmt.Sprintf("project %s requires %s at %q but the repository copy is %s",
				consumer.Name, sibling.Name, declared, sibling.Version), nil).
			WithSubject(sibling.Name).
			WithOperation("link").
			WithDetail("consumer", consumer.Name).
			WithDetail("declared_range", declared)
	}
	return nil
}
