// Package loader imports plugin code modules and resolves the callables
// and definitions their manifests refer to by name.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

var (
	// ErrSymbolNotFound is returned when a module does not export a name
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrNotCallable is returned when an export exists but is not a function
	ErrNotCallable = errors.New("symbol is not callable")

	// ErrModuleClosed is returned for lookups on a closed module
	ErrModuleClosed = errors.New("module is closed")

	// ErrUnsupportedModule is returned when no loader handles a file type
	ErrUnsupportedModule = errors.New("unsupported module type")

	// ErrPathEscapes is returned when a manifest path leaves the plugin dir
	ErrPathEscapes = errors.New("path escapes plugin directory")
)

// Module is an imported code unit
type Module interface {
	// Path returns the file the module was loaded from
	Path() string

	// Func resolves an exported callable
	Func(name string) (api.Func, error)

	// Value resolves an exported definition as a JSON-like Go value
	Value(name string) (any, error)

	// Close releases the module's runtime
	Close() error
}

// ModuleLoader imports a module from a resolved file path
type ModuleLoader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// LoadError is the structured failure returned by SafeLoad
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load module %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SafeLoad imports path with l, converting errors and panics raised while
// importing into a *LoadError.
func SafeLoad(ctx context.Context, l ModuleLoader, path string) (mod Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod = nil
			err = &LoadError{Path: path, Err: fmt.Errorf("panic during import: %v", r)}
		}
	}()

	mod, err = l.Load(ctx, path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return nil, loadErr
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	if mod == nil {
		return nil, &LoadError{Path: path, Err: errors.New("loader returned no module")}
	}
	return mod, nil
}

// NormalizeImportPath resolves a manifest-declared path against pluginDir.
// The result never depends on the process working directory for relative
// paths, and paths that leave pluginDir are rejected.
func NormalizeImportPath(pluginDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("empty module path")
	}

	base := filepath.Clean(pluginDir)
	var target string
	if filepath.IsAbs(p) {
		target = filepath.Clean(p)
	} else {
		target = filepath.Join(base, filepath.FromSlash(p))
	}

	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return target, nil
}

// MultiLoader dispatches to a loader chosen by file extension
type MultiLoader struct {
	loaders map[string]ModuleLoader
}

// NewMultiLoader creates a loader keyed by extension (".lua", ".so")
func NewMultiLoader(byExt map[string]ModuleLoader) *MultiLoader {
	loaders := make(map[string]ModuleLoader, len(byExt))
	for ext, l := range byExt {
		loaders[strings.ToLower(ext)] = l
	}
	return &MultiLoader{loaders: loaders}
}

// NewDefaultLoader handles Lua sources and Go plugin shared objects
func NewDefaultLoader(lua *LuaLoader) *MultiLoader {
	return NewMultiLoader(map[string]ModuleLoader{
		".lua": lua,
		".so":  &GoPluginLoader{},
	})
}

// Load implements ModuleLoader
func (m *MultiLoader) Load(ctx context.Context, path string) (Module, error) {
	ext := strings.ToLower(filepath.Ext(path))
	l, ok := m.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModule, ext)
	}
	return l.Load(ctx, path)
}

// Extensions lists the file extensions this loader accepts
func (m *MultiLoader) Extensions() []string {
	exts := make([]string, 0, len(m.loaders))
	for ext := range m.loaders {
		exts = append(exts, ext)
	}
	return exts
}
