package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/linker"
)

func newLinkCommand() *cobra.Command {
	var (
		force   bool
		project string
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link project resolution folders",
		Long: `Compute a link plan per project and apply it: internal dependencies
become symlinks to sibling project folders, external dependencies become
symlinks into the shared cache. Stale links are removed first. Reapplying
an unchanged plan touches nothing.

A filesystem failure while linking one project does not stop the others;
the command reports every failed project at the end.`,
		Example: `  # Link every project
  monoforge link

  # Relink one project even when its plan is unchanged
  monoforge link --project app --force`,
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

			planner := linker.NewPlanner(ws, graph, ws.Config.AllowMismatchedInternalRanges)

			var plans []linker.Plan
			if project != "" {
				plan, err := planner.PlanProject(project)
				if err != nil {
					return err
				}
				plans = []linker.Plan{*plan}
			} else {
				plans, err = planner.PlanAll()
				if err != nil {
					return err
				}
			}

			executor := linker.NewExecutor(ws, log.Logger)

			linked, unchanged := 0, 0
			var failed []string
			err = withRepoLock(ctx, ws, func() error {
				for i := range plans {
					status, applyErr := executor.Apply(&plans[i], force)
					if applyErr != nil {
						// Filesystem trouble in one project folder is contained
						// there; anything else aborts the whole run.
						if !engine.IsFilesystem(applyErr) {
							return applyErr
						}
						log.Error().Err(applyErr).Str("project", plans[i].Project).Msg("linking failed")
						failed = append(failed, plans[i].Project)
						continue
					}
					switch status {
					case linker.StatusLinked:
						linked++
					case linker.StatusUnchanged:
						unchanged++
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			if len(failed) > 0 {
				return engine.NewFilesystemError(
					fmt.Sprintf("linking failed for: %s", strings.Join(failed, ", ")), nil).
					WithOperation("link")
			}
			if linked == 0 {
				fmt.Println("All project links are up to date; nothing to do.")
			} else {
				fmt.Printf("Linked %d projects (%d unchanged).\n", linked, unchanged)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "reapply plans even when fingerprints match")
	cmd.Flags().StringVar(&project, "project", "", "link a single project")

	return cmd
}
