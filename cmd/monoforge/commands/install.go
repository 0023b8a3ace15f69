package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/install"
	"github.com/monoforge/monoforge/pkg/manifest"
	"github.com/monoforge/monoforge/pkg/telemetry"
	"github.com/monoforge/monoforge/pkg/toolrunner"
)

func newInstallCommand() *cobra.Command {
	var (
		full  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Reconcile the shared dependency cache",
		Long: `Synthesize the external dependency manifest and bring the shared cache
in line with it by driving the package-manager tool. When the install
marker is newer than both the synthesized manifest and the committed lock
file, nothing runs.

The default incremental mode merges changes into the cache without
touching the committed lock file. --full clears the cache, performs a
clean install, regenerates the lock file and promotes it to the
repository root.`,
		Example: `  # Fast incremental install
  monoforge install

  # Clean install, regenerating and promoting the lock file
  monoforge install --full

  # Reinstall even when the marker says the cache is current
  monoforge install --full --force`,
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

			synth := manifest.NewSynthesizer(
				manifest.Strategy(ws.Config.ResolutionStrategy), log.Logger)
			resolved, err := synth.Synthesize(graph)
			if err != nil {
				return err
			}

			mode := install.ModeIncremental
			if full {
				mode = install.ModeFull
			}

			tracer, err := newTracer()
			if err != nil {
				return err
			}
			defer tracer.Shutdown(ctx)
			spanCtx, span := tracer.StartInstallSpan(ctx, string(mode))
			defer span.End()

			var result *install.Result
			err = withRepoLock(spanCtx, ws, func() error {
				reconciler := install.NewReconciler(ws, toolrunner.New(log.Logger), log.Logger)
				result, err = reconciler.Reconcile(spanCtx, resolved, install.Options{
					Mode:  mode,
					Force: force,
				})
				return err
			})
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			if jsonOutput {
				return printJSON(result)
			}
			switch result.Mode {
			case install.ModeNone:
				fmt.Println("Install is already current; nothing to do.")
			default:
				fmt.Printf("Install complete: mode=%s packages=%d duration=%s\n",
					result.Mode, result.Packages, result.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "clean install with lock file regeneration and promotion")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "install even when the marker claims currency")

	return cmd
}
