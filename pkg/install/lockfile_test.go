package install

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/monoforge/monoforge/pkg/engine"
)

func TestPromoteLock(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "temp", "package-lock.json")
	committed := filepath.Join(dir, "package-lock.json")

	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(staging, []byte(`{"lockfileVersion": 3}`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := PromoteLock(staging, committed); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	data, err := os.ReadFile(committed)
	if err != nil {
		t.Fatalf("committed lock missing: %v", err)
	}
	if string(data) != `{"lockfileVersion": 3}` {
		t.Errorf("content mismatch: %q", data)
	}
	if _, err := os.Stat(committed + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	// The staging copy stays; promotion is a copy, not a move.
	if _, err := os.Stat(staging); err != nil {
		t.Error("staging lock should survive promotion")
	}
}

func TestPromoteLock_MissingStaging(t *testing.T) {
	dir := t.TempDir()
	err := PromoteLock(filepath.Join(dir, "absent.json"), filepath.Join(dir, "committed.json"))
	if !engine.IsMissingArtifact(err) {
		t.Fatalf("expected missing-artifact error, got %v", err)
	}
}

func TestRemoveCommittedLock(t *testing.T) {
	dir := t.TempDir()
	committed := filepath.Join(dir, "package-lock.json")

	// Absent file: no error.
	if err := RemoveCommittedLock(committed); err != nil {
		t.Fatalf("removing absent lock failed: %v", err)
	}

	if err := os.WriteFile(committed, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := RemoveCommittedLock(committed); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(committed); !os.IsNotExist(err) {
		t.Error("lock still present")
	}
}

func TestTouchMarker_RefreshesMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-install.flag")

	if err := TouchMarker(path); err != nil {
		t.Fatalf("first touch failed: %v", err)
	}
	first, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	// Backdate, then touch again: mtime must move forward.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
	if err := TouchMarker(path); err != nil {
		t.Fatalf("second touch failed: %v", err)
	}
	second, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if second.ModTime().Before(first.ModTime().Add(-time.Second)) {
		t.Errorf("touch did not refresh mtime: %v", second.ModTime())
	}
}
