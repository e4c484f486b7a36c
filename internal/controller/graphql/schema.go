package graphql

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/hooks"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

var nameRe = regexp.MustCompile(`^[_a-zA-Z][_a-zA-Z0-9]*$`)

var rootTypes = map[string]bool{"Query": true, "Mutation": true, "Subscription": true}

// Option configures a SchemaBuilder
type Option func(*SchemaBuilder)

// WithMetrics records schema builds
func WithMetrics(mp *observability.MetricsProvider) Option {
	return func(b *SchemaBuilder) { b.metrics = mp }
}

// WithHooks runs plugin hooks around every plugin field resolver
func WithHooks(d *hooks.Dispatcher) Option {
	return func(b *SchemaBuilder) { b.UseHooks(d) }
}

// WithAuthRequired makes lifecycle mutations require admin claims
func WithAuthRequired() Option {
	return func(b *SchemaBuilder) { b.resolver.requireAuth = true }
}

// SchemaBuilder compiles the host schema merged with every registered
// plugin field and type. The compiled schema is cached until the registry
// changes or Invalidate is called.
type SchemaBuilder struct {
	registry registry.Reader
	resolver *Resolver
	metrics  *observability.MetricsProvider
	logger   *zap.Logger
	dispatch atomic.Pointer[hooks.Dispatcher]

	mutex   sync.RWMutex
	schema  *graphql.Schema
	types   map[string]graphql.Output
	version uint64
	dirty   bool
	builds  int
}

// NewSchemaBuilder creates a builder reading plugin contributions from reg
func NewSchemaBuilder(reg registry.Reader, logger *zap.Logger, opts ...Option) *SchemaBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SchemaBuilder{
		registry: reg,
		resolver: newResolver(reg, false),
		logger:   logger.Named("graphql"),
		dirty:    true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach connects the plugin manager behind the host fields
func (b *SchemaBuilder) Attach(m PluginManager) {
	b.resolver.attach(m)
}

// UseHooks sets the dispatcher plugin field resolvers run hooks through.
// It takes effect on the next resolved field without a rebuild.
func (b *SchemaBuilder) UseHooks(d *hooks.Dispatcher) {
	b.dispatch.Store(d)
}

// HookEvent names the hook event fired around a plugin field, for example
// "graphql.query.greet" or "graphql.mutation.createPost"
func HookEvent(bucket registry.Bucket, field string) string {
	switch bucket {
	case registry.BucketQueries:
		return "graphql.query." + field
	case registry.BucketMutations:
		return "graphql.mutation." + field
	case registry.BucketSubscriptions:
		return "graphql.subscription." + field
	}
	return string(bucket) + "." + field
}

// Invalidate forces the next Schema call to rebuild
func (b *SchemaBuilder) Invalidate() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.dirty = true
}

// Type returns a named output type: a built-in scalar, a host type or a
// plugin type from the current schema
func (b *SchemaBuilder) Type(name string) (graphql.Output, bool) {
	if t, ok := builtinTypes[name]; ok {
		return t, true
	}
	if _, err := b.Schema(context.Background()); err != nil {
		return nil, false
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	t, ok := b.types[name]
	return t, ok
}

// Builds reports how many times the schema has been compiled
func (b *SchemaBuilder) Builds() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.builds
}

// Schema returns the compiled schema, rebuilding it when stale
func (b *SchemaBuilder) Schema(ctx context.Context) (*graphql.Schema, error) {
	version := b.registry.Version()

	b.mutex.RLock()
	if b.schema != nil && !b.dirty && b.version == version {
		s := b.schema
		b.mutex.RUnlock()
		return s, nil
	}
	b.mutex.RUnlock()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	version = b.registry.Version()
	if b.schema != nil && !b.dirty && b.version == version {
		return b.schema, nil
	}

	start := time.Now()
	schema, types, err := b.build()
	b.metrics.RecordSchemaBuild(ctx, err == nil, time.Since(start))
	if err != nil {
		b.logger.Error("failed to build graphql schema", zap.Error(err))
		return nil, fmt.Errorf("failed to build graphql schema: %w", err)
	}

	b.schema = &schema
	b.types = types
	b.version = version
	b.dirty = false
	b.builds++
	b.logger.Debug("graphql schema built",
		zap.Uint64("registry_version", version),
		zap.Duration("duration", time.Since(start)),
	)
	return b.schema, nil
}

func (b *SchemaBuilder) build() (graphql.Schema, map[string]graphql.Output, error) {
	types := make(map[string]graphql.Output, len(builtinTypes))
	for name, t := range builtinTypes {
		types[name] = t
	}

	host := b.hostTypes()
	for name, t := range host {
		types[name] = t
	}

	var extra []graphql.Type
	for _, obj := range b.pluginTypes(types) {
		types[obj.Name()] = obj
		extra = append(extra, obj)
	}

	query := b.hostQueries(host)
	b.addPluginFields(query, registry.BucketQueries, types)

	mutation := b.hostMutations(host)
	b.addPluginFields(mutation, registry.BucketMutations, types)

	subscription := graphql.Fields{}
	b.addPluginFields(subscription, registry.BucketSubscriptions, types)

	cfg := graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: query}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutation}),
		Types:    extra,
	}
	if len(subscription) > 0 {
		cfg.Subscription = graphql.NewObject(graphql.ObjectConfig{Name: "Subscription", Fields: subscription})
	}

	schema, err := graphql.NewSchema(cfg)
	return schema, types, err
}

func (b *SchemaBuilder) hostTypes() map[string]graphql.Output {
	pluginType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Plugin",
		Description: "A discovered plugin",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"name":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"version":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"description": &graphql.Field{Type: graphql.String},
			"author":      &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"dir":         &graphql.Field{Type: graphql.String},
			"loadedAt":    &graphql.Field{Type: graphql.DateTime},
			"activatedAt": &graphql.Field{Type: graphql.DateTime},
		},
	})

	pluginErrorType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PluginError",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"pluginId":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"phase":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"message":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"timestamp": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		},
	})

	extensionType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Extension",
		Description: "A registry entry contributed by an active plugin",
		Fields: graphql.Fields{
			"bucket":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"name":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"pluginId":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"returns":     &graphql.Field{Type: graphql.String},
			"description": &graphql.Field{Type: graphql.String},
			"definition":  &graphql.Field{Type: JSON},
		},
	})

	return map[string]graphql.Output{
		"Plugin":      pluginType,
		"PluginError": pluginErrorType,
		"Extension":   extensionType,
	}
}

func (b *SchemaBuilder) hostQueries(host map[string]graphql.Output) graphql.Fields {
	r := b.resolver
	return graphql.Fields{
		"plugins": &graphql.Field{
			Type:        graphql.NewList(host["Plugin"]),
			Description: "List plugins",
			Args: graphql.FieldConfigArgument{
				"status": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: r.Plugins,
		},
		"plugin": &graphql.Field{
			Type:        host["Plugin"],
			Description: "Get plugin by id",
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.Plugin,
		},
		"pluginErrors": &graphql.Field{
			Type:        graphql.NewList(host["PluginError"]),
			Description: "List recorded plugin errors",
			Args: graphql.FieldConfigArgument{
				"pluginId": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: r.PluginErrors,
		},
		"extensions": &graphql.Field{
			Type:        graphql.NewList(host["Extension"]),
			Description: "List registry entries",
			Args: graphql.FieldConfigArgument{
				"bucket": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: r.Extensions,
		},
	}
}

func (b *SchemaBuilder) hostMutations(host map[string]graphql.Output) graphql.Fields {
	r := b.resolver
	idArg := graphql.FieldConfigArgument{
		"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
	}
	return graphql.Fields{
		"activatePlugin": &graphql.Field{
			Type:        host["Plugin"],
			Description: "Activate a plugin",
			Args:        idArg,
			Resolve:     r.ActivatePlugin,
		},
		"deactivatePlugin": &graphql.Field{
			Type:        host["Plugin"],
			Description: "Deactivate a plugin",
			Args:        idArg,
			Resolve:     r.DeactivatePlugin,
		},
		"unloadPlugin": &graphql.Field{
			Type:        graphql.Boolean,
			Description: "Unload an inactive plugin",
			Args:        idArg,
			Resolve:     r.UnloadPlugin,
		},
	}
}

type fieldSpec struct {
	name        string
	ref         string
	description string
}

// pluginTypes turns every registered plugin type into an object type. Field
// types resolve lazily so plugin types may reference each other.
func (b *SchemaBuilder) pluginTypes(types map[string]graphql.Output) []*graphql.Object {
	var out []*graphql.Object
	for _, e := range b.registry.Entries(registry.BucketTypes) {
		if !nameRe.MatchString(e.Name) {
			b.skip(e, "invalid type name")
			continue
		}
		if _, taken := types[e.Name]; taken || rootTypes[e.Name] {
			b.skip(e, "type name is reserved by the host")
			continue
		}

		specs, description := typeFields(e.Definition)
		if len(specs) == 0 {
			b.skip(e, "type declares no valid fields")
			continue
		}
		if description == "" {
			description = e.Description
		}

		entry := e
		out = append(out, graphql.NewObject(graphql.ObjectConfig{
			Name:        e.Name,
			Description: description,
			Fields: graphql.FieldsThunk(func() graphql.Fields {
				fields := make(graphql.Fields, len(specs))
				for _, s := range specs {
					fields[s.name] = &graphql.Field{
						Type:        b.outputType(entry, s.ref, types),
						Description: s.description,
					}
				}
				return fields
			}),
		}))
	}
	return out
}

// typeFields reads {"description": ..., "fields": {name: "Type" | {"type": "Type", "description": ...}}}
func typeFields(def any) ([]fieldSpec, string) {
	m, ok := def.(map[string]any)
	if !ok {
		return nil, ""
	}
	description, _ := m["description"].(string)
	raw, ok := m["fields"].(map[string]any)
	if !ok {
		return nil, description
	}

	specs := make([]fieldSpec, 0, len(raw))
	for name, v := range raw {
		if !nameRe.MatchString(name) {
			continue
		}
		spec := fieldSpec{name: name}
		switch v := v.(type) {
		case string:
			spec.ref = v
		case map[string]any:
			spec.ref, _ = v["type"].(string)
			spec.description, _ = v["description"].(string)
		default:
			continue
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].name < specs[j].name })
	return specs, description
}

func (b *SchemaBuilder) addPluginFields(fields graphql.Fields, bucket registry.Bucket, types map[string]graphql.Output) {
	for _, e := range b.registry.Entries(bucket) {
		if !nameRe.MatchString(e.Name) {
			b.skip(e, "invalid field name")
			continue
		}
		if _, taken := fields[e.Name]; taken {
			b.skip(e, "field name is reserved by the host")
			continue
		}
		if e.Resolver == nil {
			b.skip(e, "no resolver")
			continue
		}
		fields[e.Name] = b.pluginField(e, types)
	}
}

func (b *SchemaBuilder) pluginField(e registry.Entry, types map[string]graphql.Output) *graphql.Field {
	resolve := e.Resolver
	return &graphql.Field{
		Type:        b.outputType(e, e.Returns, types),
		Description: e.Description,
		Args: graphql.FieldConfigArgument{
			"args": &graphql.ArgumentConfig{
				Type:        JSON,
				Description: "Arguments passed to the plugin resolver",
			},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			args, _ := p.Args["args"].(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			return b.resolveWithHooks(p.Context, HookEvent(e.Bucket, e.Name), resolve, args)
		},
	}
}

// resolveWithHooks feeds the pre hook payload to the resolver as its
// arguments, then hands {"args", "result"} to the post hooks. Hook
// failures are recorded by the dispatcher and never fail the field.
func (b *SchemaBuilder) resolveWithHooks(ctx context.Context, event string, resolve api.Func, args map[string]any) (any, error) {
	d := b.dispatch.Load()
	if d == nil {
		return resolve(ctx, utils.CloneMap(args))
	}

	args = d.Pre(ctx, event, args).Payload
	out, err := resolve(ctx, utils.CloneMap(args))
	if err != nil {
		return nil, err
	}
	d.Post(ctx, event, map[string]any{"args": args, "result": out})
	return out, nil
}

// outputType resolves a type reference such as "Greeting", "[String!]" or
// "Int!". Unknown references fall back to JSON.
func (b *SchemaBuilder) outputType(e registry.Entry, ref string, types map[string]graphql.Output) graphql.Output {
	if strings.TrimSpace(ref) == "" {
		return JSON
	}
	t, err := parseTypeRef(ref, types)
	if err != nil {
		b.logger.Warn("unknown graphql type; using JSON",
			zap.String("plugin_id", e.PluginID),
			zap.String("name", e.Name),
			zap.String("type", ref),
			zap.Error(err),
		)
		return JSON
	}
	return t
}

func parseTypeRef(ref string, types map[string]graphql.Output) (graphql.Output, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasSuffix(ref, "!"):
		inner, err := parseTypeRef(strings.TrimSuffix(ref, "!"), types)
		if err != nil {
			return nil, err
		}
		if _, ok := inner.(*graphql.NonNull); ok {
			return nil, fmt.Errorf("invalid type reference %q", ref)
		}
		return graphql.NewNonNull(inner), nil
	case strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]"):
		inner, err := parseTypeRef(ref[1:len(ref)-1], types)
		if err != nil {
			return nil, err
		}
		return graphql.NewList(inner), nil
	}
	t, ok := types[ref]
	if !ok {
		return nil, fmt.Errorf("type %q is not defined", ref)
	}
	return t, nil
}

func (b *SchemaBuilder) skip(e registry.Entry, reason string) {
	b.logger.Warn("skipping plugin graphql contribution",
		zap.String("plugin_id", e.PluginID),
		zap.String("bucket", string(e.Bucket)),
		zap.String("name", e.Name),
		zap.String("reason", reason),
	)
}
