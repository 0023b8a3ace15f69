package toolrunner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
)

func TestRunner_CapturesOutput(t *testing.T) {
	runner := New(zerolog.Nop())

	result, err := runner.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "out" {
		t.Errorf("stdout not captured: %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("stderr not captured: %q", result.Stderr)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	runner := New(zerolog.Nop())

	result, err := runner.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo broken >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !engine.IsExternalTool(err) {
		t.Fatalf("expected external-tool kind, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}

	var repoErr *engine.RepoError
	if !errors.As(err, &repoErr) {
		t.Fatal("expected RepoError")
	}
	if stderr, _ := repoErr.Details["stderr"].(string); !strings.Contains(stderr, "broken") {
		t.Errorf("stderr tail not attached: %v", repoErr.Details)
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	runner := New(zerolog.Nop())

	_, err := runner.Run(context.Background(), Spec{Command: "definitely-not-a-binary-xyz"})
	if !engine.IsExternalTool(err) {
		t.Fatalf("expected external-tool kind, got %v", err)
	}

	if _, err := runner.Run(context.Background(), Spec{}); err == nil {
		t.Fatal("empty command should fail")
	}
}

func TestRunner_EnvOverrides(t *testing.T) {
	runner := New(zerolog.Nop())

	result, err := runner.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo $MONOFORGE_TEST_VAR"},
		Env:     map[string]string{"MONOFORGE_TEST_VAR": "hello"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("env override not applied: %q", result.Stdout)
	}
}

func TestRunner_PathPrefix(t *testing.T) {
	runner := New(zerolog.Nop())

	result, err := runner.Run(context.Background(), Spec{
		Command:    "sh",
		Args:       []string{"-c", "echo $PATH"},
		PathPrefix: "/monoforge-test-bin",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(result.Stdout), "/monoforge-test-bin") {
		t.Errorf("path prefix not prepended: %q", result.Stdout)
	}
}

func TestRunner_ShellMode(t *testing.T) {
	runner := New(zerolog.Nop())
	dir := t.TempDir()

	result, err := runner.Run(context.Background(), Spec{
		Command: "pwd",
		Dir:     dir,
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); !strings.HasSuffix(got, dir) && got != dir {
		t.Errorf("expected pwd %q, got %q", dir, got)
	}
}

func TestRunner_RunBuildAttachesSubject(t *testing.T) {
	runner := New(zerolog.Nop())
	project := &engine.Project{Name: "app", Folder: t.TempDir()}

	if err := runner.RunBuild(context.Background(), project, "true"); err != nil {
		t.Fatalf("build should succeed: %v", err)
	}

	err := runner.RunBuild(context.Background(), project, "exit 1")
	if err == nil {
		t.Fatal("expected error")
	}
	var repoErr *engine.RepoError
	if !errors.As(err, &repoErr) {
		t.Fatal("expected RepoError")
	}
	if repoErr.Subject != "app" || repoErr.Operation != "build" {
		t.Errorf("missing subject/operation context: %+v", repoErr)
	}
}

func TestRunner_ContextCancellation(t *testing.T) {
	runner := New(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Spec{Command: "sh", Args: []string{"-c", "sleep 10"}})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !engine.IsExternalTool(err) {
		t.Errorf("expected external-tool kind, got %v", err)
	}
}
