package plan

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var definitions embed.FS

// Builtin returns the plan definitions compiled into the binary
func Builtin() fs.FS {
	sub, err := fs.Sub(definitions, "definitions")
	if err != nil {
		panic(err)
	}
	return sub
}

// Loader loads plans from YAML files in a filesystem
type Loader struct {
	fsys     fs.FS
	validate *validator.Validate
}

// NewLoader creates a new plan loader reading from the root of fsys
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{
		fsys:     fsys,
		validate: validator.New(),
	}
}

// Load loads a single plan by name
func (l *Loader) Load(name string) (*Plan, error) {
	filename := name + ".yaml"

	data, err := fs.ReadFile(l.fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", filename, err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan YAML %s: %w", filename, err)
	}

	if err := l.Validate(&p); err != nil {
		return nil, fmt.Errorf("validate plan %s: %w", name, err)
	}

	if p.Name != name {
		return nil, fmt.Errorf("plan %s declares name %q", filename, p.Name)
	}

	return &p, nil
}

// LoadAll loads every plan in the filesystem root
func (l *Loader) LoadAll() ([]*Plan, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read plans directory: %w", err)
	}

	plans := []*Plan{}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		p, err := l.Load(name)
		if err != nil {
			return nil, fmt.Errorf("load plan %s: %w", name, err)
		}

		plans = append(plans, p)
	}

	if len(plans) == 0 {
		return nil, fmt.Errorf("no plans found")
	}

	return plans, nil
}

// Validate checks a plan against its schema
func (l *Loader) Validate(p *Plan) error {
	if err := l.validate.Struct(p); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if p.Eggs.Default != 0 && !p.Eggs.Allows(p.Eggs.Default) {
		return fmt.Errorf("default egg %d not in allowlist", p.Eggs.Default)
	}

	return nil
}
