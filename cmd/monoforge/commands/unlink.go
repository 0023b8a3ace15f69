package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/linker"
)

func newUnlinkCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove project resolution-folder links",
		Long: `Remove every symlink from each project's resolution folder along with
its plan fingerprint. Unlinking an already-unlinked project reports
nothing to do.`,
		Example: `  # Unlink every project
  monoforge unlink

  # Unlink one project
  monoforge unlink --project app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := loadWorkspace()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(ws.Projects))
			if project != "" {
				names = append(names, project)
			} else {
				for i := range ws.Projects {
					names = append(names, ws.Projects[i].Name)
				}
			}

			executor := linker.NewExecutor(ws, log.Logger)

			changed := 0
			err = withRepoLock(ctx, ws, func() error {
				for _, name := range names {
					removed, unlinkErr := executor.Unlink(name)
					if unlinkErr != nil {
						return unlinkErr
					}
					if removed {
						changed++
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			if changed == 0 {
				fmt.Println("No links present; nothing to do.")
			} else {
				fmt.Printf("Unlinked %d projects.\n", changed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "unlink a single project")

	return cmd
}
