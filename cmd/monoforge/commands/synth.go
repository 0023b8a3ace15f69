package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/manifest"
)

func newSynthCommand() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize the shared external dependency manifest",
		Long: `Resolve every external package to a single version satisfying all of the
ranges the workspace projects declare for it, using the configured
resolution strategy. Disjoint ranges fail the command, naming the package
and the projects involved.`,
		Example: `  # Print the resolved package set
  monoforge synth

  # Persist the temp manifest without installing
  monoforge synth --write`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace()
			if err != nil {
				return err
			}
			graph, err := buildGraph(ws)
			if err != nil {
				return err
			}

			synth := manifest.NewSynthesizer(
				manifest.Strategy(ws.Config.ResolutionStrategy), log.Logger)
			resolved, err := synth.Synthesize(graph)
			if err != nil {
				return err
			}

			if write {
				changed, err := manifest.WriteTemp(ws.TempManifestPath(), resolved)
				if err != nil {
					return err
				}
				if changed {
					log.Info().Str("path", ws.TempManifestPath()).Msg("temp manifest written")
				} else {
					log.Info().Str("path", ws.TempManifestPath()).Msg("temp manifest unchanged")
				}
			}

			if jsonOutput {
				return printJSON(resolved.Packages)
			}
			for _, name := range resolved.Names() {
				fmt.Printf("%s@%s\n", name, resolved.Packages[name])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "persist the synthesized manifest to the temp folder")

	return cmd
}
