package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/monoforge/monoforge/pkg/engine"
)

// tempManifest is the on-disk shape handed to the package-manager tool: a
// synthetic project whose dependencies are the whole repository's external
// surface.
type tempManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Private      bool              `json:"private"`
	Dependencies map[string]string `json:"dependencies"`
}

// Encode renders the synthesized manifest as the temp manifest document.
// Encoding is deterministic: identical inputs produce identical bytes.
func (m *Synthesized) Encode() ([]byte, error) {
	doc := tempManifest{
		Name:         "monoforge-temp",
		Version:      "0.0.0",
		Private:      true,
		Dependencies: m.Packages,
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, engine.NewInternalError("failed to encode temp manifest", err)
	}
	return append(data, '\n'), nil
}

// WriteTemp persists the temp manifest at path, creating parent directories.
// The file is only touched when its content actually changed, so its mtime
// stays meaningful for install currency checks. Returns whether a write
// happened.
func WriteTemp(path string, m *Synthesized) (bool, error) {
	data, err := m.Encode()
	if err != nil {
		return false, err
	}

	if existing, readErr := os.ReadFile(path); readErr == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, engine.NewFilesystemError(
			fmt.Sprintf("failed to create directory for %s", path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, engine.NewFilesystemError(
			fmt.Sprintf("failed to write %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, engine.NewFilesystemError(
			fmt.Sprintf("failed to replace %s", path), err)
	}
	return true, nil
}

// ModTime returns the temp manifest's modification time, or the zero time
// when the file does not exist.
func ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, engine.NewFilesystemError(
			fmt.Sprintf("failed to stat %s", path), err)
	}
	return info.ModTime(), nil
}
