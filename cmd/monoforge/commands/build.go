package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/linker"
	"github.com/monoforge/monoforge/pkg/stores"
	"github.com/monoforge/monoforge/pkg/telemetry"
	"github.com/monoforge/monoforge/pkg/toolrunner"
	"github.com/monoforge/monoforge/pkg/workspace"
)

func newBuildCommand() *cobra.Command {
	var (
		parallelism   int
		failFast      bool
		rebuild       bool
		watch         bool
		taskTimeout   time.Duration
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build projects in dependency order",
		Long: `Schedule every project's build command across a bounded worker pool.
A project builds only after all of its internal dependencies succeeded;
anything downstream of a failure is skipped. Builds whose inputs have not
changed since the last successful run are satisfied from the fingerprint
cache.

With --watch, manifest changes trigger a relink and rebuild until
interrupted.`,
		Example: `  # Build everything with one worker per CPU
  monoforge build

  # Stop launching new builds after the first failure
  monoforge build --fail-fast

  # Ignore the build cache
  monoforge build --rebuild

  # Rebuild on manifest changes
  monoforge build --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			metrics := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
			if metricsListen != "" {
				go serveMetrics(metricsListen, metrics)
			}

			tracer, err := newTracer()
			if err != nil {
				return err
			}
			defer tracer.Shutdown(context.Background())

			opts := engine.ScheduleOptions{
				Parallelism: parallelism,
				FailFast:    failFast,
				Rebuild:     rebuild,
				TaskTimeout: taskTimeout,
			}

			if !watch {
				return runBuild(ctx, tracer, metrics, opts, false)
			}

			ws, err := loadWorkspace()
			if err != nil {
				return err
			}
			watcher, err := workspace.NewWatcher(ws, 0, log.Logger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			trigger := make(chan struct{}, 1)
			go func() {
				if watchErr := watcher.Watch(ctx, trigger); watchErr != nil {
					log.Error().Err(watchErr).Msg("manifest watcher stopped")
				}
			}()

			// In watch mode a failed build is a state to recover from, not a
			// reason to exit.
			if err := runBuild(ctx, tracer, metrics, opts, true); err != nil {
				log.Error().Err(err).Msg("build failed; watching for changes")
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-trigger:
					log.Info().Msg("manifest change detected; rebuilding")
					if err := runBuild(ctx, tracer, metrics, opts, true); err != nil {
						log.Error().Err(err).Msg("build failed; watching for changes")
					}
				}
			}
		},
	}

	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "worker pool width (default: number of CPUs)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop launching new builds after the first failure")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "build every project, ignoring the fingerprint cache")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild when project manifests change")
	cmd.Flags().DurationVar(&taskTimeout, "timeout", 0, "per-task build timeout (0 disables)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

// runBuild executes one full build pass: load, graph, optional relink, then
// schedule. Reloading the workspace each pass keeps watch iterations honest
// about manifest edits.
func runBuild(
	ctx context.Context,
	tracer *telemetry.Tracer,
	metrics *telemetry.Metrics,
	opts engine.ScheduleOptions,
	relink bool,
) error {
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	graph, err := buildGraph(ws)
	if err != nil {
		return err
	}
	metrics.GraphProjects.Set(float64(len(graph.Order)))

	projects, err := selectProjects(ctx, ws, graph)
	if err != nil {
		return err
	}
	if len(projects) < len(ws.Projects) {
		log.Info().
			Int("selected", len(projects)).
			Int("total", len(ws.Projects)).
			Msg("selector narrowed the build set")
		if graph, err = engine.NewGraphBuilder().Build(projects); err != nil {
			return err
		}
	}

	if relink {
		if err := relinkAll(ctx, ws, graph, metrics); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(ws.TempDir(), 0o755); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create %s", ws.TempDir()), err)
	}
	store, err := stores.NewHistoryStore(ws.HistoryDBPath())
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	spanCtx, span := tracer.StartSpan(ctx, "build.run")
	defer span.End()

	scheduler := engine.NewScheduler(toolrunner.New(log.Logger), store, log.Logger)
	report, err := scheduler.Run(spanCtx, graph, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	span.SetAttributes(telemetry.AttrRunID.String(report.RunID))

	if err := store.SaveReport(ctx, report); err != nil {
		log.Warn().Err(err).Msg("failed to persist run history")
	}

	outcome := "ok"
	if !report.OK() {
		outcome = "failed"
	}
	metrics.ObserveRun(outcome, report.Duration)
	for _, task := range report.Tasks {
		metrics.ObserveTask(task.Project, string(task.State), task.Duration)
	}

	if err := printReport(report); err != nil {
		return err
	}

	if !report.OK() {
		telemetry.RecordError(span, fmt.Errorf("%d of %d tasks failed", report.Failed, report.Total))
		return fmt.Errorf("build failed: %d of %d tasks failed", report.Failed, report.Total)
	}
	telemetry.RecordSuccess(span)
	return nil
}

// selectProjects applies the configured selector script, widened with each
// selected project's transitive internal closure so the narrowed graph stays
// self-contained.
func selectProjects(ctx context.Context, ws *workspace.Workspace, graph *engine.Graph) ([]engine.Project, error) {
	if ws.Config.Selector == "" {
		return ws.Projects, nil
	}

	selector, err := workspace.NewSelector(filepath.Join(ws.Root, ws.Config.Selector), 10*time.Second)
	if err != nil {
		return nil, err
	}
	selected, err := selector.Select(ctx, ws.Projects)
	if err != nil {
		return nil, err
	}

	include := make(map[string]bool, len(selected))
	for i := range selected {
		include[selected[i].Name] = true
		closure, err := graph.TransitiveClosure(selected[i].Name)
		if err != nil {
			return nil, err
		}
		for _, name := range closure {
			include[name] = true
		}
	}

	projects := make([]engine.Project, 0, len(include))
	for i := range ws.Projects {
		if include[ws.Projects[i].Name] {
			projects = append(projects, ws.Projects[i])
		}
	}
	return projects, nil
}

// relinkAll reapplies every link plan under the repository lock. Unchanged
// plans are fingerprint short-circuited, so this is cheap between watch
// iterations.
func relinkAll(ctx context.Context, ws *workspace.Workspace, graph *engine.Graph, metrics *telemetry.Metrics) error {
	planner := linker.NewPlanner(ws, graph, ws.Config.AllowMismatchedInternalRanges)
	plans, err := planner.PlanAll()
	if err != nil {
		return err
	}

	executor := linker.NewExecutor(ws, log.Logger)
	return withRepoLock(ctx, ws, func() error {
		for i := range plans {
			status, err := executor.Apply(&plans[i], false)
			if err != nil {
				return err
			}
			metrics.LinksApplied.WithLabelValues(string(status)).Inc()
		}
		return nil
	})
}

// printReport renders the run summary.
func printReport(report *engine.RunReport) error {
	if jsonOutput {
		return printJSON(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tSTATE\tDURATION")
	for _, task := range report.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			task.Project, task.State, task.Duration.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nRun %s: %d succeeded, %d cached, %d failed, %d skipped in %s\n",
		report.RunID, report.Succeeded, report.Cached, report.Failed, report.Skipped,
		report.Duration.Round(time.Millisecond))
	return nil
}

// serveMetrics exposes the Prometheus registry, primarily for watch mode.
func serveMetrics(addr string, metrics *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
