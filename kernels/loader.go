package kernels

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pthm-cable/drift/gpu"
)

// ErrNotFound is returned when a variant has no program for a stage.
var ErrNotFound = errors.New("kernels: program not found")

// DirLoader reads GLSL fragment programs from <Root>/<variant>/<stage>.fs.
type DirLoader struct {
	Root string
}

// Load returns the program text for a variant's stage.
func (l DirLoader) Load(ctx context.Context, variant, stage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(l.Root, variant, stage+".fs")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// Registry registers the reference kernels on a software device and hands
// out their names as program text.
type Registry struct {
	programs map[string]bool
}

// NewRegistry registers every reference kernel on dev.
func NewRegistry(dev *gpu.SoftwareDevice) *Registry {
	r := &Registry{programs: make(map[string]bool)}
	for name, fn := range reference() {
		dev.Register(name, fn)
		r.programs[name] = true
	}
	return r
}

// Load returns the registered name for a variant's stage.
func (r *Registry) Load(ctx context.Context, variant, stage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := Name(variant, stage)
	if !r.programs[name] {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return name, nil
}

// Programs returns the registered program names, sorted.
func (r *Registry) Programs() []string {
	names := make([]string, 0, len(r.programs))
	for name := range r.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
