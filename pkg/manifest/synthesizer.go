// Package manifest unions every project's external dependency ranges into a
// single synthesized manifest for the shared install, resolving each name to
// one specifier or failing loudly on disjoint ranges.
package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Strategy selects which compatible version wins when ranges overlap.
type Strategy string

const (
	// StrategyLowest resolves to the maximal lower bound consistent with
	// every range: the lowest version every consumer accepts.
	StrategyLowest Strategy = "lowest"

	// StrategyHighest resolves to the highest version mentioned by any
	// consumer that every range still accepts.
	StrategyHighest Strategy = "highest"
)

// Synthesized is the flat mapping of external package name to the single
// resolved version specifier.
type Synthesized struct {
	// Packages maps external name to resolved exact version.
	Packages map[string]string `json:"packages"`
}

// Names returns the resolved package names in sorted order.
func (m *Synthesized) Names() []string {
	names := make([]string, 0, len(m.Packages))
	for name := range m.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether no external dependencies remain.
func (m *Synthesized) Empty() bool {
	return len(m.Packages) == 0
}

// Synthesizer resolves external dependency ranges.
type Synthesizer struct {
	strategy Strategy
	logger   zerolog.Logger
}

// NewSynthesizer creates a synthesizer with the given resolution strategy.
func NewSynthesizer(strategy Strategy, logger zerolog.Logger) *Synthesizer {
	if strategy == "" {
		strategy = StrategyLowest
	}
	return &Synthesizer{
		strategy: strategy,
		logger:   logger.With().Str("component", "synthesizer").Logger(),
	}
}

// Synthesize intersects each external package's consuming ranges and resolves
// a single specifier per name. Disjoint ranges for any name abort the whole
// synthesis with no partial output.
func (s *Synthesizer) Synthesize(graph *engine.Graph) (*Synthesized, error) {
	byName := graph.ExternalByName()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &Synthesized{Packages: make(map[string]string, len(names))}
	for _, name := range names {
		resolved, err := s.resolve(name, byName[name])
		if err != nil {
			return nil, err
		}
		out.Packages[name] = resolved
	}

	s.logger.Debug().
		Int("packages", len(out.Packages)).
		Str("strategy", string(s.strategy)).
		Msg("synthesized external manifest")
	return out, nil
}

// resolve picks one version for a package from all its consumers' ranges.
// Candidate versions are the version literals appearing in the contributing
// ranges; the winner is the lowest (or highest) candidate every range
// accepts.
func (s *Synthesizer) resolve(name string, edges []engine.Edge) (string, error) {
	constraints := make([]*semver.Constraints, 0, len(edges))
	for _, e := range edges {
		c, err := semver.NewConstraint(e.Range)
		if err != nil {
			return "", engine.NewConfigError(
				fmt.Sprintf("project %s declares invalid range %q for %s", e.From, e.Range, name), err).
				WithSubject(e.From).WithOperation("synthesize")
		}
		constraints = append(constraints, c)
	}

	candidates := candidateVersions(edges)
	if s.strategy == StrategyHighest {
		sort.Sort(sort.Reverse(semver.Collection(candidates)))
	} else {
		sort.Sort(semver.Collection(candidates))
	}

	for _, v := range candidates {
		ok := true
		for _, c := range constraints {
			if !c.Check(v) {
				ok = false
				break
			}
		}
		if ok {
			return v.String(), nil
		}
	}

	return "", conflictError(name, edges)
}

// versionLiteral matches semver-looking tokens inside a range expression.
var versionLiteral = regexp.MustCompile(`\d+(\.\d+)?(\.\d+)?(-[0-9A-Za-z.-]+)?`)

// candidateVersions extracts every version literal mentioned by any consumer.
// Partial literals ("1", "1.2") are padded to full versions, which is exactly
// the lower bound the shorthand denotes.
func candidateVersions(edges []engine.Edge) []*semver.Version {
	seen := make(map[string]bool)
	versions := make([]*semver.Version, 0, len(edges))
	for _, e := range edges {
		for _, raw := range versionLiteral.FindAllString(e.Range, -1) {
			v, err := semver.NewVersion(raw)
			if err != nil {
				continue
			}
			if !seen[v.String()] {
				seen[v.String()] = true
				versions = append(versions, v)
			}
		}
	}
	return versions
}

// conflictError names the package and every conflicting consumer and range.
func conflictError(name string, edges []engine.Edge) error {
	parts := make([]string, 0, len(edges))
	projects := make([]string, 0, len(edges))
	for _, e := range edges {
		parts = append(parts, fmt.Sprintf("%s wants %q", e.From, e.Range))
		projects = append(projects, e.From)
	}
	return engine.NewVersionConflictError(
		fmt.Sprintf("external package %s has disjoint ranges: %s", name, strings.Join(parts, ", ")), nil).
		WithSubject(name).
		WithOperation("synthesize").
		WithDetail("projects", projects)
}
