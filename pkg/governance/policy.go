package governance

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Violation is one governance policy finding.
type Violation struct {
	// Package is the external package the finding concerns.
	Package string `json:"package"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// Severity is "warning" or "error". Error severity blocks the check.
	Severity string `json:"severity"`
}

// PolicyEngine evaluates an optional Rego policy over observed external
// usage. Policies live in the repository and deny usage beyond what the
// approved list alone can express, such as category restrictions.
type PolicyEngine struct {
	query   rego.PreparedEvalQuery
	enabled bool
	logger  zerolog.Logger
}

// NewPolicyEngine compiles the Rego policy at path. An empty path disables
// policy evaluation entirely.
func NewPolicyEngine(ctx context.Context, path string, logger zerolog.Logger) (*PolicyEngine, error) {
	e := &PolicyEngine{
		logger: logger.With().Str("component", "governance-policy").Logger(),
	}
	if path == "" {
		return e, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to read governance policy %s", path), err)
	}

	// Policies are written in Rego v1 syntax; the compat rego package still
	// defaults to v0 parsing, so pin the version explicitly.
	r := rego.New(
		rego.Module(path, string(source)),
		rego.Query("data.monoforge.governance.deny"),
		rego.SetRegoVersion(ast.RegoV1),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to compile governance policy %s", path), err)
	}

	e.query = query
	e.enabled = true
	e.logger.Debug().Str("policy", path).Msg("governance policy compiled")
	return e, nil
}

// Enabled reports whether a policy was loaded.
func (e *PolicyEngine) Enabled() bool {
	return e.enabled
}

// Evaluate runs the policy once per observed package. The policy input is
// {"package": name, "categories": [...], "projects": [...]}; the deny rule
// yields strings or {message, severity} objects.
func (e *PolicyEngine) Evaluate(ctx context.Context, graph *engine.Graph, usage Usage) ([]Violation, error) {
	if !e.enabled {
		return nil, nil
	}

	consumers := make(map[string][]string)
	for _, edge := range graph.External {
		consumers[edge.Name] = append(consumers[edge.Name], edge.From)
	}

	var violations []Violation
	for _, name := range usage.Names() {
		input := map[string]interface{}{
			"package":    name,
			"categories": usage.Categories(name),
			"projects":   consumers[name],
		}

		results, err := e.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, engine.NewConfigError(
				fmt.Sprintf("governance policy evaluation failed for %s", name), err).
				WithSubject(name)
		}

		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					violations = append(violations, makeViolation(name, d))
				}
			}
		}
	}

	return violations, nil
}

// Blocking reports whether any violation has error severity.
func Blocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == "error" {
			return true
		}
	}
	return false
}

// makeViolation normalizes a deny result into a Violation.
func makeViolation(pkg string, result interface{}) Violation {
	v := Violation{Package: pkg, Severity: "error"}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = sev
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}
