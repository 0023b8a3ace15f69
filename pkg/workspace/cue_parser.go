package workspace

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/monoforge/monoforge/pkg/engine"
)

// ConfigParser parses and validates the workspace configuration file.
type ConfigParser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewConfigParser creates a parser with the built-in workspace schema
// compiled.
func NewConfigParser() (*ConfigParser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(builtinWorkspaceSchema)
	if err := schema.Err(); err != nil {
		return nil, engine.NewInternalError("failed to compile workspace schema", err)
	}
	return &ConfigParser{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// ParseFile reads and validates the workspace configuration at path.
func (p *ConfigParser) ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to read workspace config %s", path), err)
	}
	return p.Parse(path, data)
}

// Parse validates configuration source against the workspace schema, applies
// schema defaults, and decodes the result.
func (p *ConfigParser) Parse(filename string, source []byte) (*Config, error) {
	value := p.ctx.CompileBytes(source, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("invalid workspace config %s: %s", filename, cueerrors.Details(err, nil)), err)
	}

	unified := p.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("workspace config %s violates schema: %s", filename, cueerrors.Details(err, nil)), err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to decode workspace config %s", filename), err)
	}

	if err := p.validator.Struct(&cfg); err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("workspace config %s failed validation", filename), err)
	}

	return &cfg, nil
}
