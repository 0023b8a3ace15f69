// Package install reconciles the shared external dependency cache with the
// synthesized manifest by driving the external package-manager tool, and owns
// the install marker and lock file lifecycle.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Guard serializes repository-wide install and link operations. These
// mutate global state (the shared cache, the committed lock file, project
// link folders) and are not safe to interleave across concurrent
// invocations.
type Guard struct {
	lock *flock.Flock
}

// NewGuard creates a guard backed by an advisory file lock at path.
func NewGuard(path string) *Guard {
	return &Guard{lock: flock.New(path)}
}

// Acquire takes the exclusive lock, waiting until it is free or the context
// is cancelled.
func (g *Guard) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.lock.Path()), 0o755); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create lock directory for %s", g.lock.Path()), err)
	}

	locked, err := g.lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to acquire repository lock %s", g.lock.Path()), err)
	}
	if !locked {
		return engine.NewFilesystemError(
			fmt.Sprintf("repository lock %s is held by another operation", g.lock.Path()), nil)
	}
	return nil
}

// Release drops the lock.
func (g *Guard) Release() error {
	return g.lock.Unlock()
}
