package engine

import (
	"fmt"
	"sort"
	"strings"
)

// GraphBuilder builds the internal dependency graph from the project
// registry. It classifies every declared dependency as internal or external,
// rejects cycles, and computes a deterministic topological order.
type GraphBuilder struct {
	// projects maps project names to their registry records
	projects map[string]*Project

	// internal maps a project to its direct internal dependency names
	internal map[string][]string

	// dependents maps a project to the projects that depend on it
	dependents map[string][]string

	// inDegree tracks the number of internal dependencies per project
	inDegree map[string]int

	// external collects every external dependency edge
	external []Edge
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		projects:   make(map[string]*Project),
		internal:   make(map[string][]string),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
		external:   make([]Edge, 0),
	}
}

// Build constructs the dependency graph from the registry's projects.
// Any cycle aborts the build before anything else runs; the returned error
// names the full cycle path.
func (b *GraphBuilder) Build(projects []Project) (*Graph, error) {
	if err := b.initialize(projects); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	order, err := b.topologicalOrder()
	if err != nil {
		return nil, err
	}

	return &Graph{
		Projects:   b.projects,
		Order:      order,
		Internal:   b.internal,
		Dependents: b.dependents,
		External:   b.external,
	}, nil
}

// initialize indexes projects and classifies every dependency edge.
func (b *GraphBuilder) initialize(projects []Project) error {
	for i := range projects {
		p := &projects[i]
		if p.Name == "" {
			return NewConfigError("project has empty name", nil).
				WithOperation("build-graph")
		}
		if _, exists := b.projects[p.Name]; exists {
			return NewConfigError(fmt.Sprintf("duplicate project name: %s", p.Name), nil).
				WithOperation("build-graph")
		}
		b.projects[p.Name] = p
		b.internal[p.Name] = make([]string, 0)
		b.dependents[p.Name] = make([]string, 0)
		b.inDegree[p.Name] = 0
	}

	// Classify edges. A dependency whose name matches a registered project is
	// internal; everything else is satisfied by the package manager.
	for _, p := range b.projects {
		seen := make(map[string]bool)
		for _, dep := range p.Dependencies {
			if dep.Name == p.Name {
				return NewConfigError(
					fmt.Sprintf("project %s depends on itself", p.Name), nil).
					WithSubject(p.Name).WithOperation("build-graph")
			}
			if seen[dep.Name] {
				return NewConfigError(
					fmt.Sprintf("project %s declares dependency %s twice", p.Name, dep.Name), nil).
					WithSubject(p.Name).WithOperation("build-graph")
			}
			seen[dep.Name] = true

			if _, ok := b.projects[dep.Name]; ok {
				b.internal[p.Name] = append(b.internal[p.Name], dep.Name)
				b.dependents[dep.Name] = append(b.dependents[dep.Name], p.Name)
				b.inDegree[p.Name]++
			} else {
				b.external = append(b.external, Edge{
					From:  p.Name,
					Name:  dep.Name,
					Range: dep.Range,
					Kind:  EdgeExternal,
				})
			}
		}
	}

	// Sort adjacency lists and external edges so every derived artifact is
	// deterministic regardless of map iteration order.
	for name := range b.internal {
		sort.Strings(b.internal[name])
		sort.Strings(b.dependents[name])
	}
	sort.Slice(b.external, func(i, j int) bool {
		if b.external[i].From != b.external[j].From {
			return b.external[i].From < b.external[j].From
		}
		return b.external[i].Name < b.external[j].Name
	})

	return nil
}

// detectCycles runs depth-first search over internal edges and reports the
// first cycle found with its full path.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	names := make([]string, 0, len(b.projects))
	for name := range b.projects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if cycle := b.findCycle(name, visited, onStack, nil); cycle != nil {
			return NewCycleError(
				fmt.Sprintf("internal dependency cycle: %s", formatCycle(cycle)),
				cycle,
			).WithOperation("build-graph")
		}
	}

	return nil
}

// findCycle performs DFS from nodeID, returning the cycle path if one exists.
func (b *GraphBuilder) findCycle(name string, visited, onStack map[string]bool, path []string) []string {
	visited[name] = true
	onStack[name] = true
	path = append(path, name)

	for _, dep := range b.internal[name] {
		if !visited[dep] {
			if cycle := b.findCycle(dep, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[dep] {
			start := 0
			for i, id := range path {
				if id == dep {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), dep)
		}
	}

	onStack[name] = false
	return nil
}

// topologicalOrder computes the build order with Kahn's algorithm. The
// frontier is kept sorted so ties always break by project name.
func (b *GraphBuilder) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(b.inDegree))
	for name, d := range b.inDegree {
		inDegree[name] = d
	}

	frontier := make([]string, 0)
	for name, d := range inDegree {
		if d == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(b.projects))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)

		released := make([]string, 0)
		for _, dependent := range b.dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			frontier = append(frontier, released...)
			sort.Strings(frontier)
		}
	}

	// Cycle detection already ran, so this is a bug if it ever trips.
	if len(order) != len(b.projects) {
		return nil, NewInternalError("topological sort did not consume every project", nil).
			WithOperation("build-graph")
	}

	return order, nil
}

// TransitiveClosure returns every project reachable from name over internal
// edges, sorted. The project itself is not included.
func (g *Graph) TransitiveClosure(name string) ([]string, error) {
	if _, ok := g.Projects[name]; !ok {
		return nil, NewConfigError(fmt.Sprintf("unknown project: %s", name), nil).
			WithSubject(name)
	}

	seen := make(map[string]bool)
	stack := append([]string{}, g.Internal[name]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		stack = append(stack, g.Internal[next]...)
	}

	closure := make([]string, 0, len(seen))
	for dep := range seen {
		closure = append(closure, dep)
	}
	sort.Strings(closure)
	return closure, nil
}

// InDegrees returns the internal in-degree per project, as consumed by the
// build scheduler.
func (g *Graph) InDegrees() map[string]int {
	degrees := make(map[string]int, len(g.Projects))
	for name := range g.Projects {
		degrees[name] = len(g.Internal[name])
	}
	return degrees
}

// ExternalByName groups external edges by dependency name, preserving the
// deterministic edge order within each group.
func (g *Graph) ExternalByName() map[string][]Edge {
	byName := make(map[string][]Edge)
	for _, e := range g.External {
		byName[e.Name] = append(byName[e.Name], e)
	}
	return byName
}

// ToDOT generates a DOT representation of the internal graph for rendering
// with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph monoforge {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, name := range g.Order {
		p := g.Projects[name]
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\"];\n", name, name, p.Version))
	}
	sb.WriteString("\n")
	for _, name := range g.Order {
		for _, dep := range g.Internal[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", name, dep))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
