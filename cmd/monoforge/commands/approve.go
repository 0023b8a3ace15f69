package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/governance"
)

func newApproveCommand() *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Check or update the approved-packages file",
		Long: `Compare the external packages the workspace actually uses against the
approved-packages file. Without --update the command fails when an
unapproved package is in use; with --update the file is rewritten to
include every observed package, preserving existing entries.

When the workspace configures a governance policy, its Rego rules are
evaluated over the observed usage; error-severity findings block the
check either way.`,
		Example: `  # Verify every used package is approved
  monoforge approve

  # Record newly used packages in the approved file
  monoforge approve --update`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := loadWorkspace()
			if err != nil {
				return err
			}
			graph, err := buildGraph(ws)
			if err != nil {
				return err
			}

			usage := governance.ObservedUsage(graph)
			current, err := governance.Load(ws.ApprovedPackagesPath())
			if err != nil {
				return err
			}
			next := governance.Reduce(current, usage)
			added := governance.Diff(current, next)

			policyPath := ""
			if ws.Config.GovernancePolicy != "" {
				policyPath = filepath.Join(ws.Root, ws.Config.GovernancePolicy)
			}
			policy, err := governance.NewPolicyEngine(ctx, policyPath, log.Logger)
			if err != nil {
				return err
			}
			violations, err := policy.Evaluate(ctx, graph, usage)
			if err != nil {
				return err
			}
			for _, v := range violations {
				event := log.Warn()
				if v.Severity == "error" {
					event = log.Error()
				}
				event.Str("package", v.Package).Str("severity", v.Severity).Msg(v.Message)
			}
			if governance.Blocking(violations) {
				return engine.NewConfigError("governance policy violations block the check", nil).
					WithOperation("approve")
			}

			if update {
				if err := governance.Save(ws.ApprovedPackagesPath(), next); err != nil {
					return err
				}
				if len(added) > 0 {
					log.Info().Strs("packages", added).Msg("recorded newly approved packages")
				} else {
					log.Info().Msg("approved-packages file already current")
				}
				return nil
			}

			if len(added) > 0 {
				return engine.NewConfigError(
					fmt.Sprintf("unapproved packages in use: %s (run 'monoforge approve --update')",
						strings.Join(added, ", ")), nil).
					WithOperation("approve")
			}

			fmt.Printf("All %d external packages are approved.\n", len(usage))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&update, "update", "u", false, "rewrite the approved-packages file with observed usage")

	return cmd
}
