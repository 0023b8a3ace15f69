package governance

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/monoforge/monoforge/pkg/engine"
)

// fileHeader is prepended to every write so hand-editors know the contract.
const fileHeader = `# Approved external packages for this repository.
# Entries are added automatically when new external dependencies are
# observed; removal is a manual edit.
`

// Load reads the approved-packages file. A missing file is an empty list.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &List{Packages: []Entry{}}, nil
		}
		return nil, engine.NewFilesystemError(
			fmt.Sprintf("failed to read approved packages file %s", path), err)
	}

	var list List
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("malformed approved packages file %s", path), err)
	}
	if list.Packages == nil {
		list.Packages = []Entry{}
	}
	return &list, nil
}

// Encode renders the list deterministically: identical lists produce
// byte-identical output.
func Encode(list *List) ([]byte, error) {
	body, err := yaml.Marshal(list)
	if err != nil {
		return nil, engine.NewInternalError("failed to encode approved packages list", err)
	}
	return append([]byte(fileHeader), body...), nil
}

// Save atomically replaces the approved-packages file with the encoded list.
func Save(path string, list *List) error {
	data, err := Encode(list)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create directory for %s", path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to write %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to replace %s", path), err)
	}
	return nil
}
