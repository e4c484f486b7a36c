package loader

import (
	"context"
	"fmt"
	"plugin"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// GoPluginLoader loads Go plugins built with -buildmode=plugin.
// Shared objects cannot be unloaded, so Close is a no-op.
type GoPluginLoader struct{}

// Load opens the shared object at path
func (GoPluginLoader) Load(_ context.Context, path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin: %w", err)
	}
	return &goModule{path: path, p: p}, nil
}

type goModule struct {
	path string
	p    *plugin.Plugin
}

func (m *goModule) Path() string {
	return m.path
}

// lookup also tries the exported spelling of a lower-case manifest name
func (m *goModule) lookup(name string) (plugin.Symbol, error) {
	sym, err := m.p.Lookup(name)
	if err == nil {
		return sym, nil
	}
	r, size := utf8.DecodeRuneInString(name)
	if unicode.IsLower(r) {
		if sym, err := m.p.Lookup(string(unicode.ToUpper(r)) + name[size:]); err == nil {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, m.path)
}

func (m *goModule) Func(name string) (api.Func, error) {
	sym, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	switch fn := sym.(type) {
	case func(context.Context, ...any) (any, error):
		return fn, nil
	case *api.Func:
		return *fn, nil
	case *func(context.Context, ...any) (any, error):
		return *fn, nil
	case func(context.Context) error:
		return func(ctx context.Context, _ ...any) (any, error) {
			return nil, fn(ctx)
		}, nil
	case func(context.Context, *api.PluginContext) error:
		return func(ctx context.Context, args ...any) (any, error) {
			var pc *api.PluginContext
			if len(args) > 0 {
				pc, _ = args[0].(*api.PluginContext)
			}
			return nil, fn(ctx, pc)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s has type %T", ErrNotCallable, name, sym)
	}
}

func (m *goModule) Value(name string) (any, error) {
	sym, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(sym)
	if v.Kind() == reflect.Func {
		return nil, fmt.Errorf("%s is a function, not a definition", name)
	}
	// exported variables are looked up as pointers
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		return v.Elem().Interface(), nil
	}
	return sym, nil
}

func (m *goModule) Close() error {
	return nil
}
