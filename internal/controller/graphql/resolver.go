package graphql

import (
	"context"
	"errors"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

var (
	errNotAttached  = errors.New("plugin manager is not available")
	errUnauthorized = errors.New("admin authentication required")
)

// PluginManager is the part of the plugin manager the host fields use
type PluginManager interface {
	Plugins() []api.LoadedPlugin
	Plugin(id string) (api.LoadedPlugin, bool)
	GetErrors() []api.PluginError
	ErrorsFor(id string) []api.PluginError
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	Unload(ctx context.Context, id string) error
}

// Resolver handles the host's own GraphQL fields
type Resolver struct {
	mutex       sync.RWMutex
	manager     PluginManager
	registry    registry.Reader
	requireAuth bool
}

func newResolver(reg registry.Reader, requireAuth bool) *Resolver {
	return &Resolver{registry: reg, requireAuth: requireAuth}
}

func (r *Resolver) attach(m PluginManager) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.manager = m
}

func (r *Resolver) pluginManager() (PluginManager, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.manager == nil {
		return nil, errNotAttached
	}
	return r.manager, nil
}

// Plugin Resolvers

// Plugins lists known plugins, optionally filtered by status
func (r *Resolver) Plugins(p graphql.ResolveParams) (any, error) {
	m, err := r.pluginManager()
	if err != nil {
		return nil, err
	}
	status, _ := p.Args["status"].(string)

	out := make([]map[string]any, 0)
	for _, lp := range m.Plugins() {
		if status != "" && string(lp.Status) != status {
			continue
		}
		out = append(out, summaryValue(lp.Summary()))
	}
	return out, nil
}

// Plugin returns one plugin by id, or null
func (r *Resolver) Plugin(p graphql.ResolveParams) (any, error) {
	m, err := r.pluginManager()
	if err != nil {
		return nil, err
	}
	id, _ := p.Args["id"].(string)
	lp, ok := m.Plugin(id)
	if !ok {
		return nil, nil
	}
	return summaryValue(lp.Summary()), nil
}

// PluginErrors returns recorded plugin errors, optionally for one plugin
func (r *Resolver) PluginErrors(p graphql.ResolveParams) (any, error) {
	m, err := r.pluginManager()
	if err != nil {
		return nil, err
	}

	var errs []api.PluginError
	if id, ok := p.Args["pluginId"].(string); ok && id != "" {
		errs = m.ErrorsFor(id)
	} else {
		errs = m.GetErrors()
	}

	out := make([]map[string]any, 0, len(errs))
	for _, pe := range errs {
		out = append(out, errorValue(pe))
	}
	return out, nil
}

// Extensions lists registry entries, optionally for one bucket
func (r *Resolver) Extensions(p graphql.ResolveParams) (any, error) {
	buckets := registry.Buckets
	if b, ok := p.Args["bucket"].(string); ok && b != "" {
		buckets = []registry.Bucket{registry.Bucket(b)}
	}

	out := make([]map[string]any, 0)
	for _, b := range buckets {
		for _, e := range r.registry.Entries(b) {
			out = append(out, map[string]any{
				"bucket":      string(e.Bucket),
				"name":        e.Name,
				"pluginId":    e.PluginID,
				"returns":     e.Returns,
				"description": e.Description,
				"definition":  e.Definition,
			})
		}
	}
	return out, nil
}

// ActivatePlugin activates a loaded or inactive plugin
func (r *Resolver) ActivatePlugin(p graphql.ResolveParams) (any, error) {
	return r.transition(p, func(m PluginManager, id string) error {
		return m.Activate(p.Context, id)
	})
}

// DeactivatePlugin deactivates an active plugin
func (r *Resolver) DeactivatePlugin(p graphql.ResolveParams) (any, error) {
	return r.transition(p, func(m PluginManager, id string) error {
		return m.Deactivate(p.Context, id)
	})
}

// UnloadPlugin unloads an inactive plugin
func (r *Resolver) UnloadPlugin(p graphql.ResolveParams) (any, error) {
	if err := r.authorize(p.Context); err != nil {
		return nil, err
	}
	m, err := r.pluginManager()
	if err != nil {
		return nil, err
	}
	id, _ := p.Args["id"].(string)
	if err := m.Unload(p.Context, id); err != nil {
		return nil, err
	}
	return true, nil
}

func (r *Resolver) transition(p graphql.ResolveParams, fn func(PluginManager, string) error) (any, error) {
	if err := r.authorize(p.Context); err != nil {
		return nil, err
	}
	m, err := r.pluginManager()
	if err != nil {
		return nil, err
	}
	id, _ := p.Args["id"].(string)
	if err := fn(m, id); err != nil {
		return nil, err
	}
	lp, ok := m.Plugin(id)
	if !ok {
		return nil, nil
	}
	return summaryValue(lp.Summary()), nil
}

func (r *Resolver) authorize(ctx context.Context) error {
	if !r.requireAuth {
		return nil
	}
	claims, ok := security.ClaimsFromContext(ctx)
	if !ok || claims.Role != security.RoleAdmin {
		return errUnauthorized
	}
	return nil
}

func summaryValue(s api.Summary) map[string]any {
	v := map[string]any{
		"id":          s.ID,
		"name":        s.Name,
		"version":     s.Version,
		"description": s.Description,
		"author":      s.Author,
		"status":      string(s.Status),
		"dir":         s.Dir,
		"loadedAt":    s.LoadedAt,
		"activatedAt": nil,
	}
	if s.ActivatedAt != nil {
		v["activatedAt"] = *s.ActivatedAt
	}
	return v
}

func errorValue(pe api.PluginError) map[string]any {
	return map[string]any{
		"id":        pe.ID,
		"pluginId":  pe.PluginID,
		"phase":     string(pe.Phase),
		"kind":      string(pe.Kind),
		"message":   pe.Message,
		"timestamp": pe.Timestamp,
	}
}
