// Package toolrunner drives external subprocesses: the package-manager tool
// and per-project build commands. Exit code zero is success; anything else is
// an external tool error. Output is captured for diagnostics only and never
// parsed for control flow.
package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Spec describes one subprocess invocation.
type Spec struct {
	// Command is the binary to run, or the shell line when Shell is set.
	Command string

	// Args are the command arguments. Ignored when Shell is set.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env holds per-invocation environment overrides. The process's own
	// environment is never mutated.
	Env map[string]string

	// PathPrefix is prepended to PATH for this invocation only.
	PathPrefix string

	// Shell runs Command through /bin/sh -c.
	Shell bool
}

// Result captures a finished subprocess.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes subprocess specs.
type Runner struct {
	logger zerolog.Logger
}

// New creates a runner.
func New(logger zerolog.Logger) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "toolrunner").Logger(),
	}
}

// Run executes the spec and waits for completion. A non-zero exit code is
// returned as an external tool error carrying the captured stderr.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Command == "" {
		return nil, engine.NewInternalError("empty command", nil)
	}

	var cmd *exec.Cmd
	if spec.Shell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", spec.Command)
	} else {
		cmd = exec.CommandContext(ctx, spec.Command, spec.Args...)
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = buildEnv(spec)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Debug().
		Str("command", spec.Command).
		Strs("args", spec.Args).
		Str("dir", spec.Dir).
		Msg("running subprocess")

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, engine.NewExternalToolError(
				fmt.Sprintf("%s exited with code %d", displayName(spec), result.ExitCode), err).
				WithDetail("stderr", tail(result.Stderr, 2048))
		}
		if ctx.Err() != nil {
			return result, engine.NewExternalToolError(
				fmt.Sprintf("%s interrupted", displayName(spec)), ctx.Err())
		}
		return result, engine.NewExternalToolError(
			fmt.Sprintf("failed to start %s", displayName(spec)), err)
	}

	r.logger.Debug().
		Str("command", spec.Command).
		Dur("duration", result.Duration).
		Msg("subprocess finished")
	return result, nil
}

// RunBuild executes a project's build command through the shell in the
// project folder. Implements engine.TaskRunner.
func (r *Runner) RunBuild(ctx context.Context, project *engine.Project, command string) error {
	_, err := r.Run(ctx, Spec{
		Command: command,
		Dir:     project.Folder,
		Shell:   true,
	})
	var repoErr *engine.RepoError
	if errors.As(err, &repoErr) {
		return repoErr.WithSubject(project.Name).WithOperation("build")
	}
	return err
}

// buildEnv assembles the subprocess environment from the ambient environment
// plus the spec's overrides, without touching process-wide state.
func buildEnv(spec Spec) []string {
	base := os.Environ()
	if len(spec.Env) == 0 && spec.PathPrefix == "" {
		return base
	}

	merged := make(map[string]string, len(base)+len(spec.Env))
	order := make([]string, 0, len(base)+len(spec.Env))
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for k, v := range spec.Env {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	if spec.PathPrefix != "" {
		path := merged["PATH"]
		if path == "" {
			merged["PATH"] = spec.PathPrefix
			order = append(order, "PATH")
		} else {
			merged["PATH"] = spec.PathPrefix + string(os.PathListSeparator) + path
		}
	}

	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func displayName(spec Spec) string {
	if spec.Shell {
		return fmt.Sprintf("command %q", spec.Command)
	}
	return spec.Command
}

func tail(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
