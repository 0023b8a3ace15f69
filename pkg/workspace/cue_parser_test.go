package workspace

import (
	"testing"
)

func mustParser(t *testing.T) *ConfigParser {
	t.Helper()
	parser, err := NewConfigParser()
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	return parser
}

func TestConfigParser_MinimalConfig(t *testing.T) {
	parser := mustParser(t)

	cfg, err := parser.Parse("monoforge.cue", []byte(`
packageManager: command: "npm"
projects: [
	{folder: "projects/core"},
	{folder: "projects/app", reviewCategory: "production"},
]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// Schema defaults.
	if cfg.ResolutionStrategy != "lowest" {
		t.Errorf("expected default strategy lowest, got %q", cfg.ResolutionStrategy)
	}
	if cfg.AllowMismatchedInternalRanges {
		t.Error("mismatch override should default to false")
	}
	if cfg.ResolutionFolder != "node_modules" {
		t.Errorf("expected default resolution folder, got %q", cfg.ResolutionFolder)
	}
	if len(cfg.PackageManager.InstallArgs) != 1 || cfg.PackageManager.InstallArgs[0] != "install" {
		t.Errorf("expected default install args, got %v", cfg.PackageManager.InstallArgs)
	}
	if len(cfg.PackageManager.LockArgs) != 2 {
		t.Errorf("expected default lock args, got %v", cfg.PackageManager.LockArgs)
	}

	if len(cfg.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %v", cfg.Projects)
	}
	if cfg.Projects[1].ReviewCategory != "production" {
		t.Errorf("review category lost: %+v", cfg.Projects[1])
	}
}

func TestConfigParser_ExplicitValuesOverrideDefaults(t *testing.T) {
	parser := mustParser(t)

	cfg, err := parser.Parse("monoforge.cue", []byte(`
resolutionStrategy: "highest"
allowMismatchedInternalRanges: true
resolutionFolder: "deps"
packageManager: {
	command: "pnpm"
	installArgs: ["install", "--frozen"]
	pathPrefix: "/opt/pnpm/bin"
}
projects: [{folder: "projects/core"}]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.ResolutionStrategy != "highest" {
		t.Errorf("expected highest, got %q", cfg.ResolutionStrategy)
	}
	if !cfg.AllowMismatchedInternalRanges {
		t.Error("mismatch override not decoded")
	}
	if cfg.ResolutionFolder != "deps" {
		t.Errorf("resolution folder not decoded: %q", cfg.ResolutionFolder)
	}
	if cfg.PackageManager.PathPrefix != "/opt/pnpm/bin" {
		t.Errorf("path prefix not decoded: %q", cfg.PackageManager.PathPrefix)
	}
}

func TestConfigParser_RejectsBadConfigs(t *testing.T) {
	parser := mustParser(t)

	tests := []struct {
		name   string
		source string
	}{
		{
			name:   "missing package manager command",
			source: `projects: [{folder: "projects/core"}]`,
		},
		{
			name: "empty project list",
			source: `
packageManager: command: "npm"
projects: []
`,
		},
		{
			name: "invalid resolution strategy",
			source: `
resolutionStrategy: "newest"
packageManager: command: "npm"
projects: [{folder: "projects/core"}]
`,
		},
		{
			name: "project without folder",
			source: `
packageManager: command: "npm"
projects: [{reviewCategory: "production"}]
`,
		},
		{
			name:   "not cue at all",
			source: `{{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parser.Parse("monoforge.cue", []byte(tt.source)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
