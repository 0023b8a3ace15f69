package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskRunner executes one project's build command.
type TaskRunner interface {
	RunBuild(ctx context.Context, project *Project, command string) error
}

// FingerprintStore persists the input fingerprint of each project's last
// successful build, enabling succeeded-from-cache decisions.
type FingerprintStore interface {
	// LastFingerprint returns the stored fingerprint for a project, or empty
	// when the project has never built successfully.
	LastFingerprint(ctx context.Context, project string) (string, error)

	// SaveFingerprint records the fingerprint of a successful build.
	SaveFingerprint(ctx context.Context, project, fingerprint string) error
}

// ScheduleOptions configures one scheduler run.
type ScheduleOptions struct {
	// Parallelism is the worker pool width. Zero means available parallelism.
	Parallelism int

	// FailFast stops launching new tasks after the first failure. Running
	// tasks are never killed.
	FailFast bool

	// Rebuild forces every task to run, ignoring cached fingerprints.
	Rebuild bool

	// TaskTimeout bounds one task's build command. Zero means no timeout.
	TaskTimeout time.Duration
}

// Scheduler executes build tasks in an order consistent with the dependency
// graph using a bounded worker pool. A task starts only once every internal
// dependency has reached a terminal state, and never starts if one of them
// failed.
type Scheduler struct {
	runner TaskRunner
	store  FingerprintStore
	logger zerolog.Logger
}

// NewScheduler creates a scheduler. The fingerprint store may be nil, in
// which case every build runs uncached.
func NewScheduler(runner TaskRunner, store FingerprintStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		store:  store,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// schedState is the mutable bookkeeping for one run, guarded by mu.
type schedState struct {
	mu       sync.Mutex
	tasks    map[string]*BuildTask
	inDegree map[string]int
	ready    chan string
	done     int
	total    int
	failed   bool
	closed   bool
}

// closeReadyLocked closes the ready queue once every task is terminal. The
// skip cascade settles tasks recursively, so more than one frame can observe
// done == total; the closed flag keeps the close single.
func (st *schedState) closeReadyLocked() {
	if st.done == st.total && !st.closed {
		st.closed = true
		close(st.ready)
	}
}

// Run executes every project's build task. The report accounts for every
// task; the run as a whole fails if any task failed.
func (s *Scheduler) Run(ctx context.Context, graph *Graph, opts ScheduleOptions) (*RunReport, error) {
	if graph == nil {
		return nil, NewInternalError("scheduler requires a graph", nil)
	}

	width := opts.Parallelism
	if width <= 0 {
		width = runtime.NumCPU()
	}
	if width > len(graph.Order) && len(graph.Order) > 0 {
		width = len(graph.Order)
	}

	runID := uuid.New().String()
	startedAt := time.Now()
	log := s.logger.With().Str("run_id", runID).Logger()
	log.Info().
		Int("tasks", len(graph.Order)).
		Int("parallelism", width).
		Bool("fail_fast", opts.FailFast).
		Bool("rebuild", opts.Rebuild).
		Msg("starting build run")

	st := &schedState{
		tasks:    make(map[string]*BuildTask, len(graph.Order)),
		inDegree: graph.InDegrees(),
		ready:    make(chan string, len(graph.Order)+1),
		total:    len(graph.Order),
	}
	for _, name := range graph.Order {
		st.tasks[name] = &BuildTask{
			Project: name,
			Command: graph.Projects[name].BuildCommand,
			State:   TaskPending,
		}
	}

	fingerprints := InputFingerprints(graph)

	// Seed the queue with every task that has no internal dependencies.
	st.mu.Lock()
	initial := make([]string, 0)
	for name, d := range st.inDegree {
		if d == 0 {
			initial = append(initial, name)
		}
	}
	sort.Strings(initial)
	for _, name := range initial {
		st.tasks[name].State = TaskReady
		st.ready <- name
	}
	st.closeReadyLocked()
	st.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range st.ready {
				s.runTask(ctx, graph, st, opts, log, name, fingerprints[name])
			}
		}()
	}
	wg.Wait()

	report := s.buildReport(graph, st, runID, startedAt)
	log.Info().
		Int("succeeded", report.Succeeded).
		Int("cached", report.Cached).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("build run finished")

	return report, nil
}

// runTask executes one ready task and settles its terminal state.
func (s *Scheduler) runTask(
	ctx context.Context,
	graph *Graph,
	st *schedState,
	opts ScheduleOptions,
	log zerolog.Logger,
	name, fingerprint string,
) {
	task := st.tasks[name]

	// Fail-fast drains the queue without launching anything new.
	st.mu.Lock()
	if opts.FailFast && st.failed {
		st.mu.Unlock()
		s.settle(graph, st, name, TaskSkipped,
			NewInternalError("not started: fail-fast after earlier failure", nil).WithSubject(name))
		return
	}
	if ctx.Err() != nil {
		st.mu.Unlock()
		s.settle(graph, st, name, TaskSkipped,
			NewInternalError("not started: run cancelled", ctx.Err()).WithSubject(name))
		return
	}
	task.State = TaskRunning
	task.StartedAt = time.Now()
	st.mu.Unlock()

	// Cache check: an unchanged input fingerprint from the last successful
	// build short-circuits the task unless a rebuild was requested.
	if !opts.Rebuild && s.store != nil {
		last, err := s.store.LastFingerprint(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("project", name).Msg("fingerprint lookup failed; building")
		} else if last != "" && last == fingerprint {
			log.Debug().Str("project", name).Msg("build cache hit")
			s.settle(graph, st, name, TaskCached, nil)
			return
		}
	}

	var err error
	if task.Command != "" {
		runCtx := ctx
		var cancel context.CancelFunc
		if opts.TaskTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		}
		log.Info().Str("project", name).Msg("building")
		err = s.runner.RunBuild(runCtx, graph.Projects[name], task.Command)
		if cancel != nil {
			cancel()
		}
		if err != nil && runCtx.Err() == context.DeadlineExceeded {
			err = NewExternalToolError(
				fmt.Sprintf("build of %s timed out after %s", name, opts.TaskTimeout), err).
				WithSubject(name)
		}
	}

	if err != nil {
		log.Error().Err(err).Str("project", name).Msg("build failed")
		s.settle(graph, st, name, TaskFailed, err)
		return
	}

	if s.store != nil && fingerprint != "" {
		if saveErr := s.store.SaveFingerprint(ctx, name, fingerprint); saveErr != nil {
			log.Warn().Err(saveErr).Str("project", name).Msg("failed to record build fingerprint")
		}
	}
	s.settle(graph, st, name, TaskSucceeded, nil)
}

// settle moves a task to a terminal state, releases dependents that became
// ready, and cascades skips downstream of failures.
func (s *Scheduler) settle(graph *Graph, st *schedState, name string, state TaskState, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s.settleLocked(graph, st, name, state, err)
}

func (s *Scheduler) settleLocked(graph *Graph, st *schedState, name string, state TaskState, err error) {
	task := st.tasks[name]
	if task.State.IsTerminal() {
		return
	}

	task.State = state
	task.Error = err
	if !task.StartedAt.IsZero() {
		task.Duration = time.Since(task.StartedAt)
	}
	st.done++

	switch state {
	case TaskSucceeded, TaskCached:
		for _, dependent := range graph.Dependents[name] {
			st.inDegree[dependent]--
			if st.inDegree[dependent] == 0 && !st.tasks[dependent].State.IsTerminal() {
				st.tasks[dependent].State = TaskReady
				st.ready <- dependent
			}
		}
	case TaskFailed, TaskSkipped:
		if state == TaskFailed {
			st.failed = true
		}
		// Everything downstream of a failure can never become ready.
		for _, dependent := range graph.Dependents[name] {
			if st.tasks[dependent].State.IsTerminal() {
				continue
			}
			s.settleLocked(graph, st, dependent, TaskSkipped,
				NewInternalError(
					fmt.Sprintf("skipped: depends on %s which did not succeed", name), nil).
					WithSubject(dependent))
		}
	}

	st.closeReadyLocked()
}

// buildReport assembles the final report in topological order.
func (s *Scheduler) buildReport(graph *Graph, st *schedState, runID string, startedAt time.Time) *RunReport {
	report := &RunReport{
		RunID:     runID,
		Total:     st.total,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Tasks:     make([]BuildTask, 0, st.total),
	}

	for _, name := range graph.Order {
		task := st.tasks[name]
		report.Tasks = append(report.Tasks, *task)
		switch task.State {
		case TaskSucceeded:
			report.Succeeded++
		case TaskCached:
			report.Cached++
		case TaskFailed:
			report.Failed++
		case TaskSkipped:
			report.Skipped++
		}
	}

	return report
}

// InputFingerprints computes a deterministic input fingerprint per project in
// topological order. A project's fingerprint covers its own manifest identity
// and the fingerprints of its internal dependencies, so any upstream change
// invalidates downstream caches.
func InputFingerprints(graph *Graph) map[string]string {
	fps := make(map[string]string, len(graph.Order))

	for _, name := range graph.Order {
		p := graph.Projects[name]
		h := sha256.New()
		fmt.Fprintf(h, "name=%s\nversion=%s\ncommand=%s\n", p.Name, p.Version, p.BuildCommand)

		deps := make([]string, 0, len(p.Dependencies))
		for _, d := range p.Dependencies {
			deps = append(deps, d.Name+"@"+d.Range)
		}
		sort.Strings(deps)
		for _, d := range deps {
			fmt.Fprintf(h, "dep=%s\n", d)
		}
		for _, dep := range graph.Internal[name] {
			fmt.Fprintf(h, "upstream=%s:%s\n", dep, fps[dep])
		}

		fps[name] = hex.EncodeToString(h.Sum(nil))
	}

	return fps
}
