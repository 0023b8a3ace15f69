package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/monoforge/monoforge/pkg/engine"
)

// rawManifest is the decoded project manifest. Dependencies stay raw so
// their declaration order can be preserved.
type rawManifest struct {
	Name         string            `json:"name" validate:"required"`
	Version      string            `json:"version" validate:"required"`
	Dependencies json.RawMessage   `json:"dependencies,omitempty"`
	Scripts      map[string]string `json:"scripts,omitempty"`
}

// Loader reads the registry from disk.
type Loader struct {
	parser    *ConfigParser
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	parser, err := NewConfigParser()
	if err != nil {
		return nil, err
	}
	return &Loader{
		parser:    parser,
		validator: validator.New(),
		logger:    logger.With().Str("component", "workspace").Logger(),
	}, nil
}

// Load reads the workspace configuration at root and every project manifest
// it references. The returned workspace is treated as read-only for the rest
// of the run.
func (l *Loader) Load(root string) (*Workspace, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, engine.NewFilesystemError(
			fmt.Sprintf("failed to resolve repository root %s", root), err)
	}

	cfg, err := l.parser.ParseFile(filepath.Join(absRoot, ConfigFileName))
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:     absRoot,
		Config:   cfg,
		Projects: make([]engine.Project, 0, len(cfg.Projects)),
	}

	for _, ref := range cfg.Projects {
		project, err := l.loadProject(absRoot, ref)
		if err != nil {
			return nil, err
		}
		ws.Projects = append(ws.Projects, *project)
	}

	l.logger.Debug().
		Int("projects", len(ws.Projects)).
		Str("root", absRoot).
		Msg("workspace loaded")
	return ws, nil
}

// loadProject reads and validates one project's manifest.
func (l *Loader) loadProject(root string, ref ProjectRef) (*engine.Project, error) {
	folder := filepath.Join(root, ref.Folder)
	manifestPath := filepath.Join(folder, ManifestFileName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to read project manifest %s", manifestPath), err)
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("malformed project manifest %s", manifestPath), err)
	}
	if err := l.validator.Struct(&raw); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("project manifest %s failed validation", manifestPath), err)
	}

	deps, err := decodeOrderedDependencies(raw.Dependencies)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("malformed dependencies in %s", manifestPath), err).
			WithSubject(raw.Name)
	}

	return &engine.Project{
		Name:           raw.Name,
		Version:        raw.Version,
		Folder:         folder,
		Dependencies:   deps,
		ReviewCategory: ref.ReviewCategory,
		BuildCommand:   raw.Scripts["build"],
	}, nil
}

// decodeOrderedDependencies decodes a JSON object of name -> range while
// preserving declaration order, which encoding/json's map decoding discards.
func decodeOrderedDependencies(raw json.RawMessage) ([]engine.Dependency, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("dependencies must be an object")
	}

	deps := make([]engine.Dependency, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("dependency name must be a string")
		}

		var rng string
		if err := dec.Decode(&rng); err != nil {
			return nil, fmt.Errorf("dependency %s: range must be a string", name)
		}
		deps = append(deps, engine.Dependency{Name: name, Range: rng})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return deps, nil
}
