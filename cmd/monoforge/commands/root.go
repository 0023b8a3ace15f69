package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/engine"
	"github.com/monoforge/monoforge/pkg/install"
	"github.com/monoforge/monoforge/pkg/telemetry"
	"github.com/monoforge/monoforge/pkg/workspace"
)

var (
	// Global flags
	rootDir       string
	verbose       bool
	jsonOutput    bool
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "monoforge",
		Short: "Monoforge - monorepo dependency and build orchestrator",
		Long: `Monoforge manages many projects that live in one repository: it builds
their dependency graph, synthesizes one shared external dependency set,
drives the package manager against a single shared cache, links each
project's resolution folder, and schedules builds in dependency order.

Features:
  - Typed workspace config via CUE
  - Shared external dependency cache with one committed lock file
  - Approved-packages governance with optional Rego policies
  - Symlink-based project linking, no file duplication
  - Parallel build scheduling with fingerprint caching`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "repository root (default: walk up from cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "", "trace exporter (otlp, stdout)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP gRPC endpoint for --trace=otlp")

	// Add subcommands
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newApproveCommand())
	rootCmd.AddCommand(newSynthCommand())
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newLinkCommand())
	rootCmd.AddCommand(newUnlinkCommand())
	rootCmd.AddCommand(newBuildCommand())

	return rootCmd
}

// loadWorkspace resolves the repository root and loads the registry.
func loadWorkspace() (*workspace.Workspace, error) {
	root := rootDir
	if root == "" {
		found, err := findRoot()
		if err != nil {
			return nil, err
		}
		root = found
	}

	loader, err := workspace.NewLoader(log.Logger)
	if err != nil {
		return nil, err
	}
	return loader.Load(root)
}

// findRoot walks upward from the working directory until it finds the
// workspace configuration file.
func findRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", engine.NewFilesystemError("failed to resolve working directory", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, workspace.ConfigFileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", engine.NewConfigError(
				fmt.Sprintf("no %s found in the working directory or any parent", workspace.ConfigFileName), nil)
		}
		dir = parent
	}
}

// buildGraph builds the dependency graph over every workspace project.
func buildGraph(ws *workspace.Workspace) (*engine.Graph, error) {
	return engine.NewGraphBuilder().Build(ws.Projects)
}

// withRepoLock runs fn while holding the exclusive repository lock that
// serializes install and link operations.
func withRepoLock(ctx context.Context, ws *workspace.Workspace, fn func() error) error {
	guard := install.NewGuard(ws.RepoLockPath())
	if err := guard.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release repository lock")
		}
	}()
	return fn()
}

// newTracer builds a tracer from the persistent trace flags. Without
// --trace the tracer is a no-op.
func newTracer() (*telemetry.Tracer, error) {
	cfg := telemetry.DefaultConfig()
	if traceExporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
		cfg.Tracing.Insecure = true
	}
	return telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
