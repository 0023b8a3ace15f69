package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/monoforge/monoforge/pkg/engine"
)

func writeSelector(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "select.star")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write selector failed: %v", err)
	}
	return path
}

func selectorProjects() []engine.Project {
	return []engine.Project{
		{Name: "core", Version: "1.0.0", Folder: "projects/core", ReviewCategory: "production"},
		{Name: "app", Version: "2.0.0", Folder: "projects/app", ReviewCategory: "production"},
		{Name: "sandbox", Version: "0.1.0", Folder: "projects/sandbox", ReviewCategory: "experimental"},
	}
}

func TestSelector_FiltersByField(t *testing.T) {
	path := writeSelector(t, `
def include(project):
    return project["review_category"] == "production"
`)

	selector, err := NewSelector(path, 5*time.Second)
	if err != nil {
		t.Fatalf("selector construction failed: %v", err)
	}

	selected, err := selector.Select(context.Background(), selectorProjects())
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 projects, got %v", selected)
	}
	// Input order preserved.
	if selected[0].Name != "core" || selected[1].Name != "app" {
		t.Errorf("selection order wrong: %v", selected)
	}
}

func TestSelector_SeesAllProjectFields(t *testing.T) {
	path := writeSelector(t, `
def include(project):
    return project["name"] == "app" and project["version"] == "2.0.0"
`)

	selector, err := NewSelector(path, 5*time.Second)
	if err != nil {
		t.Fatalf("selector construction failed: %v", err)
	}

	selected, err := selector.Select(context.Background(), selectorProjects())
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(selected) != 1 || selected[0].Name != "app" {
		t.Errorf("expected only app, got %v", selected)
	}
}

func TestSelector_MissingIncludeFunction(t *testing.T) {
	path := writeSelector(t, `exclude = True`)

	if _, err := NewSelector(path, time.Second); !engine.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestSelector_ScriptError(t *testing.T) {
	path := writeSelector(t, `
def include(project):
    return project["no_such_key"]
`)

	selector, err := NewSelector(path, time.Second)
	if err != nil {
		t.Fatalf("selector construction failed: %v", err)
	}
	if _, err := selector.Select(context.Background(), selectorProjects()); err == nil {
		t.Fatal("expected runtime error from the script")
	}
}

func TestSelector_MissingFile(t *testing.T) {
	if _, err := NewSelector(filepath.Join(t.TempDir(), "absent.star"), time.Second); !engine.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}
