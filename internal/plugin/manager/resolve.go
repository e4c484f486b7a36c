package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/loader"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pcontext"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
)

// record is the manager-private state behind one LoadedPlugin
type record struct {
	plugin        *api.LoadedPlugin
	pctx          *api.PluginContext
	modules       map[string]loader.Module
	activate      api.Func
	deactivate    api.Func
	contributions registry.Contributions
}

func (r *record) close() error {
	var errs []error
	for path, mod := range r.modules {
		if err := mod.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	r.modules = nil
	return errors.Join(errs...)
}

// resolver turns a manifest into a record by importing every module the
// manifest references and binding each declared name once.
type resolver struct {
	loader loader.ModuleLoader
	host   pcontext.Host
	logger *zap.Logger
}

func (r *resolver) resolve(ctx context.Context, manifest *api.Manifest, runInit bool) (*record, error) {
	rec := &record{
		modules: make(map[string]loader.Module),
		pctx:    pcontext.New(r.host, manifest),
		plugin: &api.LoadedPlugin{
			ID:               manifest.PluginID,
			Manifest:         manifest,
			Status:           api.StatusDiscovered,
			Dir:              manifest.Dir(),
			GraphQLResolvers: make(map[string]api.ResolvedResolver),
			GraphQLTypes:     make(map[string]any),
			DatabaseTables:   make(map[string]any),
			DatabaseEnums:    make(map[string]any),
		},
	}
	resolved := false
	defer func() {
		if !resolved {
			_ = rec.close()
		}
	}()

	entry, err := r.module(ctx, rec, manifest.Main)
	if err != nil {
		return nil, err
	}
	initFn, err := optionalFunc(entry, api.EntryInit)
	if err != nil {
		return nil, err
	}
	if rec.activate, err = optionalFunc(entry, api.EntryActivate); err != nil {
		return nil, err
	}
	if rec.deactivate, err = optionalFunc(entry, api.EntryDeactivate); err != nil {
		return nil, err
	}

	ext := manifest.Extensions()
	if err := r.resolveGraphQL(ctx, rec, ext.GraphQL); err != nil {
		return nil, err
	}
	if err := r.resolveDatabase(ctx, rec, ext.Database); err != nil {
		return nil, err
	}
	if err := r.resolveHooks(ctx, rec, ext.Hooks); err != nil {
		return nil, err
	}

	if runInit && initFn != nil {
		if _, err := callGuarded(func() (any, error) { return initFn(ctx, rec.pctx) }); err != nil {
			return nil, fmt.Errorf("init failed: %w", err)
		}
	}

	rec.plugin.LoadedAt = time.Now().UTC()
	resolved = true
	return rec, nil
}

// module imports a manifest path once per plugin
func (r *resolver) module(ctx context.Context, rec *record, declared string) (loader.Module, error) {
	path, err := loader.NormalizeImportPath(rec.plugin.Dir, declared)
	if err != nil {
		return nil, err
	}
	if mod, ok := rec.modules[path]; ok {
		return mod, nil
	}
	mod, err := loader.SafeLoad(ctx, r.loader, path)
	if err != nil {
		return nil, err
	}
	rec.modules[path] = mod
	r.logger.Debug("module imported",
		zap.String("plugin_id", rec.plugin.ID),
		zap.String("path", path),
	)
	return mod, nil
}

func optionalFunc(mod loader.Module, name string) (api.Func, error) {
	fn, err := mod.Func(name)
	if errors.Is(err, loader.ErrSymbolNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entry point %s: %w", name, err)
	}
	return fn, nil
}

func (r *resolver) resolveGraphQL(ctx context.Context, rec *record, exts []api.GraphQLExtension) error {
	for _, g := range exts {
		bucket, ok := registry.BucketForGraphQL(g.Type)
		if !ok {
			return fmt.Errorf("graphql extension %s has unknown type %q", g.Name, g.Type)
		}
		mod, err := r.module(ctx, rec, g.File)
		if err != nil {
			return err
		}

		if g.Type == api.GraphQLObject {
			def, err := mod.Value(g.Name)
			if err != nil {
				return fmt.Errorf("graphql type %s: %w", g.Name, err)
			}
			rec.plugin.GraphQLTypes[g.Name] = def
			rec.contributions.Entries = append(rec.contributions.Entries, registry.Entry{
				Bucket:      bucket,
				Name:        g.Name,
				Definition:  def,
				Description: g.Description,
			})
			continue
		}

		fn, err := mod.Func(g.Resolver)
		if err != nil {
			return fmt.Errorf("graphql %s %s: %w", g.Type, g.Name, err)
		}
		rec.plugin.GraphQLResolvers[api.ResolverKey(g.Type, g.Name)] = api.ResolvedResolver{Extension: g, Resolve: fn}
		rec.contributions.Entries = append(rec.contributions.Entries, registry.Entry{
			Bucket:      bucket,
			Name:        g.Name,
			Resolver:    fn,
			Returns:     g.Returns,
			Description: g.Description,
		})
	}
	return nil
}

func (r *resolver) resolveDatabase(ctx context.Context, rec *record, exts []api.DatabaseExtension) error {
	for _, d := range exts {
		bucket, ok := registry.BucketForDatabase(d.Type)
		if !ok {
			return fmt.Errorf("database extension %s has unknown type %q", d.Name, d.Type)
		}
		mod, err := r.module(ctx, rec, d.File)
		if err != nil {
			return err
		}
		def, err := mod.Value(d.Name)
		if err != nil {
			return fmt.Errorf("database %s %s: %w", d.Type, d.Name, err)
		}

		rec.contributions.Entries = append(rec.contributions.Entries, registry.Entry{
			Bucket:     bucket,
			Name:       d.Name,
			Definition: def,
		})

		if d.Type == api.DatabaseEnum {
			rec.plugin.DatabaseEnums[d.Name] = def
			continue
		}
		rec.plugin.DatabaseTables[d.Name] = def
		rec.contributions.Entries = append(rec.contributions.Entries, relationEntries(d.Name, def)...)
	}
	return nil
}

// relationEntries lifts a table's "relations" map into <table>.<relation> entries
func relationEntries(table string, def any) []registry.Entry {
	m, ok := def.(map[string]any)
	if !ok {
		return nil
	}
	rels, ok := m["relations"].(map[string]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(rels))
	for name := range rels {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]registry.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, registry.Entry{
			Bucket:     registry.BucketRelations,
			Name:       table + "." + name,
			Definition: rels[name],
		})
	}
	return entries
}

func (r *resolver) resolveHooks(ctx context.Context, rec *record, exts []api.HookExtension) error {
	for _, h := range exts {
		if h.Type != api.HookPre && h.Type != api.HookPost {
			return fmt.Errorf("hook %s has unknown type %q", h.Handler, h.Type)
		}
		mod, err := r.module(ctx, rec, h.File)
		if err != nil {
			return err
		}
		fn, err := mod.Func(h.Handler)
		if err != nil {
			return fmt.Errorf("%s hook %s for %s: %w", h.Type, h.Handler, h.Event, err)
		}
		rec.plugin.Hooks = append(rec.plugin.Hooks, api.ResolvedHook{
			Type:        h.Type,
			Event:       h.Event,
			HandlerName: h.Handler,
			Handler:     fn,
		})
		rec.contributions.Hooks = append(rec.contributions.Hooks, registry.HookEntry{
			Type:        h.Type,
			Event:       h.Event,
			HandlerName: h.Handler,
			Handler:     fn,
		})
	}
	return nil
}
