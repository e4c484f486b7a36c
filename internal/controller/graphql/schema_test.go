package graphql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

type fakeManager struct {
	plugins map[string]api.LoadedPlugin
	errors  []api.PluginError
	calls   []string
	fail    error
}

func newFakeManager() *fakeManager {
	return &fakeManager{plugins: map[string]api.LoadedPlugin{
		"greeter": {
			ID:       "greeter",
			Manifest: &api.Manifest{Name: "Greeter", PluginID: "greeter", Version: "1.0.0"},
			Status:   api.StatusActive,
			LoadedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		"audit": {
			ID:       "audit",
			Manifest: &api.Manifest{Name: "Audit", PluginID: "audit", Version: "0.1.0"},
			Status:   api.StatusLoaded,
		},
	}}
}

func (f *fakeManager) Plugins() []api.LoadedPlugin {
	return []api.LoadedPlugin{f.plugins["audit"], f.plugins["greeter"]}
}

func (f *fakeManager) Plugin(id string) (api.LoadedPlugin, bool) {
	p, ok := f.plugins[id]
	return p, ok
}

func (f *fakeManager) GetErrors() []api.PluginError { return f.errors }

func (f *fakeManager) ErrorsFor(id string) []api.PluginError {
	var out []api.PluginError
	for _, e := range f.errors {
		if e.PluginID == id {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeManager) transition(op, id string, to api.Status) error {
	f.calls = append(f.calls, op+":"+id)
	if f.fail != nil {
		return f.fail
	}
	p := f.plugins[id]
	p.Status = to
	f.plugins[id] = p
	return nil
}

func (f *fakeManager) Activate(_ context.Context, id string) error {
	return f.transition("activate", id, api.StatusActive)
}

func (f *fakeManager) Deactivate(_ context.Context, id string) error {
	return f.transition("deactivate", id, api.StatusInactive)
}

func (f *fakeManager) Unload(_ context.Context, id string) error {
	if err := f.transition("unload", id, api.StatusUnloaded); err != nil {
		return err
	}
	delete(f.plugins, id)
	return nil
}

func greet(_ context.Context, args ...any) (any, error) {
	name, _ := args[0].(map[string]any)["name"].(string)
	if name == "" {
		name = "world"
	}
	return map[string]any{"message": "Hello, " + name, "length": int64(len(name))}, nil
}

func newBuilder(t *testing.T, reg *registry.Registry, opts ...Option) (*SchemaBuilder, *fakeManager) {
	t.Helper()
	b := NewSchemaBuilder(reg, zaptest.NewLogger(t), opts...)
	m := newFakeManager()
	b.Attach(m)
	return b, m
}

func execute(t *testing.T, b *SchemaBuilder, ctx context.Context, query string) *graphql.Result {
	t.Helper()
	schema, err := b.Schema(ctx)
	require.NoError(t, err)
	return graphql.Do(graphql.Params{Schema: *schema, RequestString: query, Context: ctx})
}

func greeterRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("greeter", registry.Contributions{Entries: []registry.Entry{
		{Bucket: registry.BucketTypes, Name: "Greeting", Definition: map[string]any{
			"description": "A greeting",
			"fields": map[string]any{
				"message":  "String!",
				"length":   map[string]any{"type": "Int", "description": "name length"},
				"bad-name": "String",
			},
		}},
		{Bucket: registry.BucketQueries, Name: "greet", Resolver: greet, Returns: "Greeting", Description: "Say hello"},
		{Bucket: registry.BucketQueries, Name: "greetRaw", Resolver: greet},
		{Bucket: registry.BucketMutations, Name: "greetMany", Resolver: greet, Returns: "[Greeting]"},
	}}))
	return reg
}

func TestSchemaBuilder_PluginFields(t *testing.T) {
	b, _ := newBuilder(t, greeterRegistry(t))

	res := execute(t, b, context.Background(), `{
		greet(args: {name: "Ada"}) { message length }
		greetRaw
	}`)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]any)
	assert.Equal(t, map[string]any{"message": "Hello, Ada", "length": 3}, data["greet"])
	assert.Equal(t, map[string]any{"message": "Hello, world", "length": int64(5)}, data["greetRaw"])
}

func TestSchemaBuilder_ArgsFromVariables(t *testing.T) {
	b, _ := newBuilder(t, greeterRegistry(t))
	schema, err := b.Schema(context.Background())
	require.NoError(t, err)

	res := graphql.Do(graphql.Params{
		Schema:         *schema,
		RequestString:  `query($a: JSON) { greet(args: $a) { message } }`,
		VariableValues: map[string]any{"a": map[string]any{"name": "Lin"}},
		Context:        context.Background(),
	})
	require.Empty(t, res.Errors)
	assert.Equal(t, "Hello, Lin", res.Data.(map[string]any)["greet"].(map[string]any)["message"])
}

func TestSchemaBuilder_ResolverError(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("broken", registry.Contributions{Entries: []registry.Entry{
		{Bucket: registry.BucketQueries, Name: "boom", Resolver: func(context.Context, ...any) (any, error) {
			return nil, errors.New("upstream unavailable")
		}},
	}}))
	b, _ := newBuilder(t, reg)

	res := execute(t, b, context.Background(), `{ boom }`)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "upstream unavailable")
}

func TestSchemaBuilder_CacheAndInvalidate(t *testing.T) {
	reg := greeterRegistry(t)
	b, _ := newBuilder(t, reg)
	ctx := context.Background()

	first, err := b.Schema(ctx)
	require.NoError(t, err)
	second, err := b.Schema(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, b.Builds())

	b.Invalidate()
	_, err = b.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Builds())

	require.NoError(t, reg.Register("weather", registry.Contributions{Entries: []registry.Entry{
		{Bucket: registry.BucketQueries, Name: "forecast", Resolver: greet},
	}}))
	res := execute(t, b, ctx, `{ forecast }`)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, b.Builds())

	reg.Unregister("weather")
	res = execute(t, b, ctx, `{ forecast }`)
	assert.NotEmpty(t, res.Errors, "removed fields disappear after rebuild")
}

func TestSchemaBuilder_SkipsInvalidContributions(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("naughty", registry.Contributions{Entries: []registry.Entry{
		{Bucket: registry.BucketQueries, Name: "plugins", Resolver: greet},
		{Bucket: registry.BucketQueries, Name: "has-dash", Resolver: greet},
		{Bucket: registry.BucketQueries, Name: "unknownReturn", Resolver: greet, Returns: "Nope"},
		{Bucket: registry.BucketTypes, Name: "Plugin", Definition: map[string]any{"fields": map[string]any{"x": "String"}}},
		{Bucket: registry.BucketTypes, Name: "Query", Definition: map[string]any{"fields": map[string]any{"x": "String"}}},
		{Bucket: registry.BucketTypes, Name: "Empty", Definition: map[string]any{"fields": map[string]any{}}},
		{Bucket: registry.BucketTypes, Name: "Scalar", Definition: "not a map"},
	}}))
	b, _ := newBuilder(t, reg)

	res := execute(t, b, context.Background(), `{ plugins { id } unknownReturn }`)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]any)
	assert.Len(t, data["plugins"], 2, "host field wins over plugin field")
	assert.Equal(t, "Hello, world", data["unknownReturn"].(map[string]any)["message"])

	_, ok := b.Type("Empty")
	assert.False(t, ok)
}

func TestSchemaBuilder_Subscriptions(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("ticker", registry.Contributions{Entries: []registry.Entry{
		{Bucket: registry.BucketSubscriptions, Name: "ticks", Resolver: greet},
	}}))
	b, _ := newBuilder(t, reg)

	schema, err := b.Schema(context.Background())
	require.NoError(t, err)
	require.NotNil(t, schema.SubscriptionType())
	assert.Contains(t, schema.SubscriptionType().Fields(), "ticks")
}

func TestSchemaBuilder_Type(t *testing.T) {
	b, _ := newBuilder(t, greeterRegistry(t))

	s, ok := b.Type("String")
	require.True(t, ok)
	assert.Equal(t, graphql.String, s)

	g, ok := b.Type("Greeting")
	require.True(t, ok)
	assert.Equal(t, "Greeting", g.Name())

	_, ok = b.Type("Plugin")
	assert.True(t, ok)

	_, ok = b.Type("Missing")
	assert.False(t, ok)
}

func TestSchemaBuilder_HostQueries(t *testing.T) {
	b, m := newBuilder(t, greeterRegistry(t))
	m.errors = []api.PluginError{
		api.NewPluginError("audit", api.PhaseLoad, api.KindLoad, errors.New("bad module")),
		api.NewPluginError("greeter", api.PhaseDispatch, api.KindHook, errors.New("hook failed")),
	}

	res := execute(t, b, context.Background(), `{
		all: plugins { id status }
		active: plugins(status: "active") { id loadedAt activatedAt }
		plugin(id: "greeter") { name version }
		missing: plugin(id: "nope") { id }
		pluginErrors(pluginId: "audit") { pluginId phase kind message }
		extensions(bucket: "graphql.queries") { name pluginId returns }
	}`)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)

	assert.Len(t, data["all"], 2)
	active := data["active"].([]any)
	require.Len(t, active, 1)
	assert.Equal(t, "greeter", active[0].(map[string]any)["id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", active[0].(map[string]any)["loadedAt"])
	assert.Nil(t, active[0].(map[string]any)["activatedAt"])

	assert.Equal(t, map[string]any{"name": "Greeter", "version": "1.0.0"}, data["plugin"])
	assert.Nil(t, data["missing"])

	assert.Equal(t, []any{map[string]any{
		"pluginId": "audit", "phase": "load", "kind": "load", "message": "bad module",
	}}, data["pluginErrors"])

	exts := data["extensions"].([]any)
	require.Len(t, exts, 2)
	assert.Equal(t, map[string]any{"name": "greet", "pluginId": "greeter", "returns": "Greeting"}, exts[0])
}

func TestSchemaBuilder_LifecycleMutations(t *testing.T) {
	b, m := newBuilder(t, registry.New())

	res := execute(t, b, context.Background(), `mutation {
		activatePlugin(id: "audit") { id status }
	}`)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]any{"id": "audit", "status": "active"}, res.Data.(map[string]any)["activatePlugin"])

	res = execute(t, b, context.Background(), `mutation { deactivatePlugin(id: "audit") { status } }`)
	require.Empty(t, res.Errors)

	res = execute(t, b, context.Background(), `mutation { unloadPlugin(id: "audit") }`)
	require.Empty(t, res.Errors)
	assert.Equal(t, true, res.Data.(map[string]any)["unloadPlugin"])

	assert.Equal(t, []string{"activate:audit", "deactivate:audit", "unload:audit"}, m.calls)

	m.fail = errors.New("plugin audit is active")
	res = execute(t, b, context.Background(), `mutation { activatePlugin(id: "greeter") { id } }`)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "plugin audit is active")
}

func TestSchemaBuilder_MutationsRequireAdmin(t *testing.T) {
	b, m := newBuilder(t, registry.New(), WithAuthRequired())

	res := execute(t, b, context.Background(), `mutation { activatePlugin(id: "audit") { id } }`)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "admin authentication required")
	assert.Empty(t, m.calls)

	ctx := security.WithClaims(context.Background(), &security.Claims{Role: security.RoleAdmin})
	res = execute(t, b, ctx, `mutation { activatePlugin(id: "audit") { id } }`)
	require.Empty(t, res.Errors)
	assert.Equal(t, []string{"activate:audit"}, m.calls)
}

func TestSchemaBuilder_NotAttached(t *testing.T) {
	b := NewSchemaBuilder(registry.New(), nil)

	res := execute(t, b, context.Background(), `{ plugins { id } }`)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "not available")
}

func TestParseTypeRef(t *testing.T) {
	types := map[string]graphql.Output{"String": graphql.String}

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"String", "String", false},
		{"String!", "String!", false},
		{"[String]", "[String]", false},
		{" [String!]! ", "[String!]!", false},
		{"String!!", "", true},
		{"Unknown", "", true},
		{"[Unknown]", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := parseTypeRef(tt.ref, types)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestHookEvent(t *testing.T) {
	assert.Equal(t, "graphql.query.ping", HookEvent(registry.BucketQueries, "ping"))
	assert.Equal(t, "graphql.mutation.ping", HookEvent(registry.BucketMutations, "ping"))
	assert.Equal(t, "graphql.subscription.ticks", HookEvent(registry.BucketSubscriptions, "ticks"))
}
