package api

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a plugin
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusLoaded     Status = "loaded"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusUnloaded   Status = "unloaded"
)

// Func is the resolved form of every plugin-declared callable.
// Resolvers receive their arguments as-is; hook handlers receive the
// payload followed by the event name.
type Func func(ctx context.Context, args ...any) (any, error)

// Lifecycle entry points a main module may export
const (
	EntryInit       = "init"
	EntryActivate   = "activate"
	EntryDeactivate = "deactivate"
)

// ResolvedHook is a hook extension bound to its handler
type ResolvedHook struct {
	Type        HookType `json:"type"`
	Event       string   `json:"event"`
	HandlerName string   `json:"handler"`
	Handler     Func     `json:"-"`
}

// ResolvedResolver is a GraphQL field extension bound to its resolver
type ResolvedResolver struct {
	Extension GraphQLExtension `json:"extension"`
	Resolve   Func             `json:"-"`
}

// ResolverKey keys LoadedPlugin.GraphQLResolvers, e.g. "query.ping".
// A query and a mutation may share a field name.
func ResolverKey(t GraphQLType, name string) string {
	return string(t) + "." + name
}

// LoadedPlugin is the executable form of a plugin after a successful load
type LoadedPlugin struct {
	ID               string                      `json:"id"`
	Manifest         *Manifest                   `json:"manifest"`
	Status           Status                      `json:"status"`
	Dir              string                      `json:"dir"`
	GraphQLResolvers map[string]ResolvedResolver `json:"graphqlResolvers"`
	GraphQLTypes     map[string]any              `json:"graphqlTypes"`
	DatabaseTables   map[string]any              `json:"databaseTables"`
	DatabaseEnums    map[string]any              `json:"databaseEnums"`
	Hooks            []ResolvedHook              `json:"hooks"`
	LoadedAt         time.Time                   `json:"loadedAt"`
	ActivatedAt      *time.Time                  `json:"activatedAt,omitempty"`
}

// Summary is the JSON-friendly view of a plugin used by the admin surfaces
type Summary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Author      string     `json:"author"`
	Status      Status     `json:"status"`
	Dir         string     `json:"dir"`
	LoadedAt    time.Time  `json:"loadedAt"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

// Summary returns the admin view of the plugin
func (p *LoadedPlugin) Summary() Summary {
	s := Summary{
		ID:          p.ID,
		Status:      p.Status,
		Dir:         p.Dir,
		LoadedAt:    p.LoadedAt,
		ActivatedAt: p.ActivatedAt,
	}
	if p.Manifest != nil {
		s.Name = p.Manifest.Name
		s.Version = p.Manifest.Version
		s.Description = p.Manifest.Description
		s.Author = p.Manifest.Author
	}
	return s
}
