package linker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Fingerprint computes the deterministic hash of a plan. An unchanged
// fingerprint lets the executor short-circuit without touching the
// filesystem.
func (p *Plan) Fingerprint() string {
	data, err := json.Marshal(p)
	if err != nil {
		// Plans are plain data; marshalling cannot realistically fail.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// readFingerprint loads the last-applied plan hash for a project, or empty
// when the project has never been linked.
func readFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", engine.NewFilesystemError(
			fmt.Sprintf("failed to read link fingerprint %s", path), err)
	}
	return strings.TrimSpace(string(data)), nil
}

// writeFingerprint records the applied plan hash.
func writeFingerprint(path, fingerprint string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create directory for %s", path), err)
	}
	if err := os.WriteFile(path, []byte(fingerprint+"\n"), 0o644); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to write link fingerprint %s", path), err)
	}
	return nil
}

// removeFingerprint deletes the marker; absence is not an error.
func removeFingerprint(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to remove link fingerprint %s", path), err)
	}
	return nil
}
