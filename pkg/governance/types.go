// Package governance tracks which external packages are approved for use in
// the repository. The list is additive: new observed usage extends it, but
// entries are only ever removed by a manual edit.
package governance

import (
	"sort"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Entry is one approved external package and the review categories allowed
// to use it.
type Entry struct {
	// Name is the external package name.
	Name string `yaml:"name"`

	// AllowedCategories are the review categories permitted to depend on
	// this package, sorted.
	AllowedCategories []string `yaml:"allowedCategories,omitempty"`
}

// List is the persisted approved-packages file content: a deduplicated,
// name-sorted sequence of entries.
type List struct {
	Packages []Entry `yaml:"packages"`
}

// Lookup returns the entry for a package name, if present.
func (l *List) Lookup(name string) (*Entry, bool) {
	for i := range l.Packages {
		if l.Packages[i].Name == name {
			return &l.Packages[i], true
		}
	}
	return nil, false
}

// Usage records, per external package name, the review categories of the
// projects observed depending on it.
type Usage map[string]map[string]bool

// ObservedUsage collects external usage from the dependency graph.
func ObservedUsage(graph *engine.Graph) Usage {
	usage := make(Usage)
	for _, edge := range graph.External {
		categories := usage[edge.Name]
		if categories == nil {
			categories = make(map[string]bool)
			usage[edge.Name] = categories
		}
		if p, ok := graph.Projects[edge.From]; ok && p.ReviewCategory != "" {
			categories[p.ReviewCategory] = true
		}
	}
	return usage
}

// Names returns the observed package names, sorted.
func (u Usage) Names() []string {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns the observed categories for one package, sorted.
func (u Usage) Categories(name string) []string {
	cats := make([]string, 0, len(u[name]))
	for c := range u[name] {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
