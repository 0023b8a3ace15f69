package install

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestGuard_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "monoforge.lock")

	g := NewGuard(path)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Reacquirable after release.
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
}

func TestGuard_ContendedAcquireTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monoforge.lock")

	holder := NewGuard(path)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}
	defer func() { _ = holder.Release() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	waiter := NewGuard(path)
	if err := waiter.Acquire(ctx); err == nil {
		_ = waiter.Release()
		t.Fatal("expected contended acquire to fail while the lock is held")
	}
}

func TestGuard_WaiterProceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monoforge.lock")

	holder := NewGuard(path)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		waiter := NewGuard(path)
		if err := waiter.Acquire(context.Background()); err != nil {
			done <- err
			return
		}
		done <- waiter.Release()
	}()

	time.Sleep(50 * time.Millisecond)
	if err := holder.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
