// Package registry holds the merged extensions of every active plugin.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

// Bucket is one uniquely-keyed sub-map of the registry
type Bucket string

const (
	BucketQueries       Bucket = "graphql.queries"
	BucketMutations     Bucket = "graphql.mutations"
	BucketSubscriptions Bucket = "graphql.subscriptions"
	BucketTypes         Bucket = "graphql.types"
	BucketTables        Bucket = "database.tables"
	BucketEnums         Bucket = "database.enums"
	BucketRelations     Bucket = "database.relations"
)

// Buckets lists every named bucket in a stable order
var Buckets = []Bucket{
	BucketQueries, BucketMutations, BucketSubscriptions, BucketTypes,
	BucketTables, BucketEnums, BucketRelations,
}

// ErrAlreadyRegistered is returned when a plugin registers twice
var ErrAlreadyRegistered = errors.New("plugin already registered")

// ErrUnknownBucket is returned for entries naming no known bucket
var ErrUnknownBucket = errors.New("unknown registry bucket")

// BucketForGraphQL maps a GraphQL extension type to its bucket
func BucketForGraphQL(t api.GraphQLType) (Bucket, bool) {
	switch t {
	case api.GraphQLQuery:
		return BucketQueries, true
	case api.GraphQLMutation:
		return BucketMutations, true
	case api.GraphQLSubscription:
		return BucketSubscriptions, true
	case api.GraphQLObject:
		return BucketTypes, true
	}
	return "", false
}

// BucketForDatabase maps a database extension type to its bucket
func BucketForDatabase(t api.DatabaseType) (Bucket, bool) {
	switch t {
	case api.DatabaseTable:
		return BucketTables, true
	case api.DatabaseEnum:
		return BucketEnums, true
	}
	return "", false
}

// Entry is one named contribution
type Entry struct {
	Bucket      Bucket   `json:"bucket"`
	Name        string   `json:"name"`
	PluginID    string   `json:"pluginId"`
	Resolver    api.Func `json:"-"`
	Definition  any      `json:"definition,omitempty"`
	Returns     string   `json:"returns,omitempty"`
	Description string   `json:"description,omitempty"`
}

// HookEntry is one handler attached to a host event
type HookEntry struct {
	PluginID    string       `json:"pluginId"`
	Type        api.HookType `json:"type"`
	Event       string       `json:"event"`
	HandlerName string       `json:"handler"`
	Handler     api.Func     `json:"-"`
}

// Contributions is everything one plugin adds on activation
type Contributions struct {
	Entries []Entry
	Hooks   []HookEntry
}

// CollisionError reports a name already taken in a bucket
type CollisionError struct {
	Bucket   Bucket
	Name     string
	Owner    string
	PluginID string
}

func (e *CollisionError) Error() string {
	if e.Owner == e.PluginID {
		return fmt.Sprintf("plugin %s declares %s %q more than once", e.PluginID, e.Bucket, e.Name)
	}
	return fmt.Sprintf("plugin %s cannot register %s %q: already registered by %s", e.PluginID, e.Bucket, e.Name, e.Owner)
}

// Reader is the read-only view handed to every component but the manager
type Reader interface {
	Has(bucket Bucket, name string) bool
	Owner(bucket Bucket, name string) (string, bool)
	Get(bucket Bucket, name string) (Entry, bool)
	Entries(bucket Bucket) []Entry
	PreHooks(event string) []HookEntry
	PostHooks(event string) []HookEntry
	Snapshot() Snapshot
	Version() uint64
}

// Registry is the process-wide extension registry. Only the plugin manager
// mutates it; everything else reads through Reader.
type Registry struct {
	mu      sync.RWMutex
	buckets map[Bucket]map[string]Entry
	pre     map[string][]HookEntry
	post    map[string][]HookEntry
	plugins map[string]struct{}
	version uint64
}

// New creates an empty registry
func New() *Registry {
	r := &Registry{
		buckets: make(map[Bucket]map[string]Entry, len(Buckets)),
		pre:     make(map[string][]HookEntry),
		post:    make(map[string][]HookEntry),
		plugins: make(map[string]struct{}),
	}
	for _, b := range Buckets {
		r.buckets[b] = make(map[string]Entry)
	}
	return r
}

// Register merges a plugin's contributions. Either every entry is added
// or, on any collision, none is.
func (r *Registry) Register(pluginID string, c Contributions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[pluginID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, pluginID)
	}

	seen := make(map[Bucket]map[string]struct{})
	for _, e := range c.Entries {
		bucket, ok := r.buckets[e.Bucket]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBucket, e.Bucket)
		}
		if existing, taken := bucket[e.Name]; taken {
			return &CollisionError{Bucket: e.Bucket, Name: e.Name, Owner: existing.PluginID, PluginID: pluginID}
		}
		if seen[e.Bucket] == nil {
			seen[e.Bucket] = make(map[string]struct{})
		}
		if _, dup := seen[e.Bucket][e.Name]; dup {
			return &CollisionError{Bucket: e.Bucket, Name: e.Name, Owner: pluginID, PluginID: pluginID}
		}
		seen[e.Bucket][e.Name] = struct{}{}
	}
	for _, h := range c.Hooks {
		if h.Type != api.HookPre && h.Type != api.HookPost {
			return fmt.Errorf("hook %s for %q has unknown type %q", h.HandlerName, h.Event, h.Type)
		}
	}

	for _, e := range c.Entries {
		e.PluginID = pluginID
		r.buckets[e.Bucket][e.Name] = e
	}
	for _, h := range c.Hooks {
		h.PluginID = pluginID
		hooks := r.hookMap(h.Type)
		hooks[h.Event] = append(hooks[h.Event], h)
	}

	r.plugins[pluginID] = struct{}{}
	r.version++
	return nil
}

// Unregister removes every entry and hook owned by pluginID. Hook lists
// keep other plugins' handlers; lists left empty are dropped.
func (r *Registry) Unregister(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[pluginID]; !ok {
		return false
	}

	for _, bucket := range r.buckets {
		for name, e := range bucket {
			if e.PluginID == pluginID {
				delete(bucket, name)
			}
		}
	}
	for _, hooks := range []map[string][]HookEntry{r.pre, r.post} {
		for event, list := range hooks {
			kept := list[:0:0]
			for _, h := range list {
				if h.PluginID != pluginID {
					kept = append(kept, h)
				}
			}
			if len(kept) == 0 {
				delete(hooks, event)
			} else {
				hooks[event] = kept
			}
		}
	}

	delete(r.plugins, pluginID)
	r.version++
	return true
}

func (r *Registry) hookMap(t api.HookType) map[string][]HookEntry {
	if t == api.HookPre {
		return r.pre
	}
	return r.post
}

// Has reports whether name is taken in bucket
func (r *Registry) Has(bucket Bucket, name string) bool {
	_, ok := r.Get(bucket, name)
	return ok
}

// Owner returns the plugin that registered name in bucket
func (r *Registry) Owner(bucket Bucket, name string) (string, bool) {
	e, ok := r.Get(bucket, name)
	return e.PluginID, ok
}

// Get returns the entry registered under name in bucket
func (r *Registry) Get(bucket Bucket, name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.buckets[bucket][name]
	return e, ok
}

// Entries returns a bucket's entries sorted by name
func (r *Registry) Entries(bucket Bucket) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.buckets[bucket]))
	for _, e := range r.buckets[bucket] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PreHooks returns the pre handlers for event in registration order
func (r *Registry) PreHooks(event string) []HookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HookEntry(nil), r.pre[event]...)
}

// PostHooks returns the post handlers for event in registration order
func (r *Registry) PostHooks(event string) []HookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HookEntry(nil), r.post[event]...)
}

// Version increases on every successful mutation
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// GraphQLSnapshot is the graphql section of a Snapshot
type GraphQLSnapshot struct {
	Queries       map[string]Entry `json:"queries"`
	Mutations     map[string]Entry `json:"mutations"`
	Subscriptions map[string]Entry `json:"subscriptions"`
	Types         map[string]Entry `json:"types"`
}

// DatabaseSnapshot is the database section of a Snapshot
type DatabaseSnapshot struct {
	Tables    map[string]Entry `json:"tables"`
	Enums     map[string]Entry `json:"enums"`
	Relations map[string]Entry `json:"relations"`
}

// HooksSnapshot is the hooks section of a Snapshot
type HooksSnapshot struct {
	Pre  map[string][]HookEntry `json:"pre"`
	Post map[string][]HookEntry `json:"post"`
}

// Snapshot is a deep copy of the registry at one version
type Snapshot struct {
	Version  uint64           `json:"version"`
	GraphQL  GraphQLSnapshot  `json:"graphql"`
	Database DatabaseSnapshot `json:"database"`
	Hooks    HooksSnapshot    `json:"hooks"`
}

// Snapshot returns a deep copy safe to hold across mutations
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Version: r.version,
		GraphQL: GraphQLSnapshot{
			Queries:       r.copyBucket(BucketQueries),
			Mutations:     r.copyBucket(BucketMutations),
			Subscriptions: r.copyBucket(BucketSubscriptions),
			Types:         r.copyBucket(BucketTypes),
		},
		Database: DatabaseSnapshot{
			Tables:    r.copyBucket(BucketTables),
			Enums:     r.copyBucket(BucketEnums),
			Relations: r.copyBucket(BucketRelations),
		},
		Hooks: HooksSnapshot{
			Pre:  copyHooks(r.pre),
			Post: copyHooks(r.post),
		},
	}
}

func (r *Registry) copyBucket(b Bucket) map[string]Entry {
	out := make(map[string]Entry, len(r.buckets[b]))
	for name, e := range r.buckets[b] {
		e.Definition = utils.DeepClone(e.Definition)
		out[name] = e
	}
	return out
}

func copyHooks(src map[string][]HookEntry) map[string][]HookEntry {
	out := make(map[string][]HookEntry, len(src))
	for event, list := range src {
		out[event] = append([]HookEntry(nil), list...)
	}
	return out
}
