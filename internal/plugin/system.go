// Package plugin bootstraps the plugin runtime for a host.
package plugin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/loader"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pcontext"
)

type options struct {
	loader          loader.ModuleLoader
	logger          *zap.Logger
	manifestFile    string
	loadConcurrency int
	activate        bool
	managerOpts     []manager.Option
}

// Option configures InitializePluginSystem
type Option func(*options)

// WithLoader replaces the default Lua/Go-plugin module loader
func WithLoader(l loader.ModuleLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithLogger sets the logger; host.Logger is used otherwise
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithManifestFile overrides the manifest file name
func WithManifestFile(name string) Option {
	return func(o *options) { o.manifestFile = name }
}

// WithLoadConcurrency bounds concurrent plugin loading
func WithLoadConcurrency(n int) Option {
	return func(o *options) { o.loadConcurrency = n }
}

// WithoutActivation stops after discovery, leaving plugins loaded
func WithoutActivation() Option {
	return func(o *options) { o.activate = false }
}

// WithManagerOptions passes options through to the manager
func WithManagerOptions(opts ...manager.Option) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// InitializePluginSystem discovers, loads and activates every plugin under
// root. Per-plugin failures are recorded on the returned manager; only a
// systemic failure such as an unreadable root is returned as an error.
func InitializePluginSystem(ctx context.Context, root string, host pcontext.Host, opts ...Option) (*manager.Manager, error) {
	o := options{activate: true, logger: host.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.loader == nil {
		l, err := defaultLoader(o.logger)
		if err != nil {
			return nil, err
		}
		o.loader = l
	}

	m := manager.New(manager.Config{
		Root:            root,
		ManifestFile:    o.manifestFile,
		LoadConcurrency: o.loadConcurrency,
		AutoActivate:    o.activate,
	}, o.loader, host, o.logger, o.managerOpts...)

	if err := m.Discover(ctx); err != nil {
		return nil, fmt.Errorf("failed to discover plugins in %s: %w", root, err)
	}
	if o.activate {
		if err := m.ActivateAll(ctx); err != nil {
			return nil, err
		}
	}

	o.logger.Info("plugin system initialized",
		zap.String("root", root),
		zap.Int("plugins", len(m.Plugins())),
		zap.Int("errors", len(m.GetErrors())),
	)
	return m, nil
}

// ValidatePluginDir checks a single plugin directory: its manifest, every
// module it references and the uniqueness of its own extension names.
// Plugin code runs only as far as module import.
func ValidatePluginDir(ctx context.Context, dir string, l loader.ModuleLoader, logger *zap.Logger) (*api.Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l == nil {
		dl, err := defaultLoader(logger)
		if err != nil {
			return nil, err
		}
		l = dl
	}
	return manager.Validate(ctx, dir, l, "", logger)
}

func defaultLoader(logger *zap.Logger) (loader.ModuleLoader, error) {
	lua, err := loader.NewLuaLoader(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lua loader: %w", err)
	}
	return loader.NewDefaultLoader(lua), nil
}
