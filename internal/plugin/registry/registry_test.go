package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

func noop(context.Context, ...any) (any, error) { return nil, nil }

// shape flattens a snapshot into comparable strings; funcs never compare equal
func shape(s Snapshot) map[string][]string {
	out := make(map[string][]string)
	add := func(key string, m map[string]Entry) {
		for name, e := range m {
			out[key] = append(out[key], fmt.Sprintf("%s@%s=%v", name, e.PluginID, e.Definition))
		}
		sort.Strings(out[key])
	}
	add("queries", s.GraphQL.Queries)
	add("mutations", s.GraphQL.Mutations)
	add("subscriptions", s.GraphQL.Subscriptions)
	add("types", s.GraphQL.Types)
	add("tables", s.Database.Tables)
	add("enums", s.Database.Enums)
	add("relations", s.Database.Relations)
	for phase, hooks := range map[string]map[string][]HookEntry{"pre": s.Hooks.Pre, "post": s.Hooks.Post} {
		for event, list := range hooks {
			for _, h := range list {
				out[phase+":"+event] = append(out[phase+":"+event], h.HandlerName+"@"+h.PluginID)
			}
		}
	}
	return out
}

func sample(prefix string) Contributions {
	return Contributions{
		Entries: []Entry{
			{Bucket: BucketQueries, Name: prefix + "Query", Resolver: noop},
			{Bucket: BucketMutations, Name: prefix + "Mutation", Resolver: noop},
			{Bucket: BucketSubscriptions, Name: prefix + "Subscription", Resolver: noop},
			{Bucket: BucketTypes, Name: prefix + "Type", Definition: map[string]any{"fields": map[string]any{"id": "ID"}}},
			{Bucket: BucketTables, Name: prefix + "_table", Definition: map[string]any{"columns": map[string]any{"id": "integer"}}},
			{Bucket: BucketEnums, Name: prefix + "_enum", Definition: []any{"A", "B"}},
			{Bucket: BucketRelations, Name: prefix + "_table.owner", Definition: map[string]any{"table": "users"}},
		},
		Hooks: []HookEntry{
			{Type: api.HookPre, Event: "user.created", HandlerName: prefix + "Pre", Handler: noop},
			{Type: api.HookPost, Event: "user.created", HandlerName: prefix + "Post", Handler: noop},
			{Type: api.HookPost, Event: prefix + ".only", HandlerName: prefix + "Own", Handler: noop},
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register("alpha", sample("alpha")))

	assert.True(t, r.Has(BucketQueries, "alphaQuery"))
	owner, ok := r.Owner(BucketMutations, "alphaMutation")
	assert.True(t, ok)
	assert.Equal(t, "alpha", owner)
	assert.True(t, registered(r, "alpha"))
	assert.Len(t, r.PreHooks("user.created"), 1)
	assert.Len(t, r.PostHooks("user.created"), 1)
	assert.Empty(t, r.PreHooks("unknown"))
	assert.Equal(t, uint64(1), r.Version())

	e, ok := r.Get(BucketTables, "alpha_table")
	require.True(t, ok)
	assert.Equal(t, "alpha", e.PluginID)
}

func TestRegistry_UnregisterIsInverse(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("alpha", sample("alpha")))
	before := shape(r.Snapshot())

	require.NoError(t, r.Register("beta", sample("beta")))
	require.True(t, r.Unregister("beta"))

	assert.Equal(t, before, shape(r.Snapshot()))
	assert.False(t, registered(r, "beta"))
	assert.False(t, r.Unregister("beta"), "second unregister is a no-op")
}

func TestRegistry_UnregisterOnEmptyRegistry(t *testing.T) {
	r := New()
	empty := shape(r.Snapshot())

	require.NoError(t, r.Register("alpha", sample("alpha")))
	r.Unregister("alpha")

	snap := r.Snapshot()
	assert.Equal(t, empty, shape(snap))
	assert.Empty(t, snap.Hooks.Pre, "empty hook lists are removed")
	assert.Empty(t, snap.Hooks.Post)
}

func TestRegistry_UnregisterKeepsOtherHandlers(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("alpha", sample("alpha")))
	require.NoError(t, r.Register("beta", sample("beta")))

	r.Unregister("alpha")

	pre := r.PreHooks("user.created")
	require.Len(t, pre, 1)
	assert.Equal(t, "beta", pre[0].PluginID)
	assert.Empty(t, r.PostHooks("alpha.only"))
	assert.Len(t, r.PostHooks("beta.only"), 1)
}

func TestRegistry_CollisionRejectsSecondRegistrant(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("first", Contributions{
		Entries: []Entry{{Bucket: BucketMutations, Name: "createWidget", Resolver: noop}},
	}))
	before := shape(r.Snapshot())
	version := r.Version()

	err := r.Register("second", Contributions{
		Entries: []Entry{
			{Bucket: BucketQueries, Name: "widgets", Resolver: noop},
			{Bucket: BucketMutations, Name: "createWidget", Resolver: noop},
		},
		Hooks: []HookEntry{{Type: api.HookPre, Event: "widget.created", HandlerName: "h", Handler: noop}},
	})

	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, BucketMutations, collision.Bucket)
	assert.Equal(t, "createWidget", collision.Name)
	assert.Equal(t, "first", collision.Owner)
	assert.Equal(t, "second", collision.PluginID)

	assert.Equal(t, before, shape(r.Snapshot()), "nothing partially registered")
	assert.Equal(t, version, r.Version())
	assert.False(t, registered(r, "second"))
	owner, _ := r.Owner(BucketMutations, "createWidget")
	assert.Equal(t, "first", owner)
}

func TestRegistry_SameNameInDifferentBuckets(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", Contributions{Entries: []Entry{{Bucket: BucketQueries, Name: "widget"}}}))
	require.NoError(t, r.Register("b", Contributions{Entries: []Entry{{Bucket: BucketMutations, Name: "widget"}}}))
}

func TestRegistry_DuplicateWithinOnePlugin(t *testing.T) {
	r := New()

	err := r.Register("a", Contributions{Entries: []Entry{
		{Bucket: BucketTables, Name: "widgets"},
		{Bucket: BucketTables, Name: "widgets"},
	}})

	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "a", collision.Owner)
	assert.Contains(t, collision.Error(), "more than once")
	assert.False(t, r.Has(BucketTables, "widgets"))
}

func TestRegistry_RejectsDoubleRegistration(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", Contributions{}))

	err := r.Register("a", Contributions{})

	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_RejectsUnknownBucketAndHookType(t *testing.T) {
	r := New()

	err := r.Register("a", Contributions{Entries: []Entry{{Bucket: "graphql.directives", Name: "x"}}})
	assert.ErrorIs(t, err, ErrUnknownBucket)

	err = r.Register("a", Contributions{Hooks: []HookEntry{{Type: "around", Event: "e", HandlerName: "h"}}})
	assert.Error(t, err)
	assert.False(t, registered(r, "a"))
}

func TestRegistry_HooksRunInRegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"one", "two", "three"} {
		require.NoError(t, r.Register(id, Contributions{Hooks: []HookEntry{
			{Type: api.HookPre, Event: "order.placed", HandlerName: id, Handler: noop},
		}}))
	}

	var got []string
	for _, h := range r.PreHooks("order.placed") {
		got = append(got, h.PluginID)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("alpha", sample("alpha")))

	snap := r.Snapshot()
	snap.GraphQL.Types["alphaType"].Definition.(map[string]any)["fields"] = "mutated"
	delete(snap.GraphQL.Queries, "alphaQuery")
	snap.Hooks.Pre["user.created"][0].HandlerName = "mutated"

	fresh := r.Snapshot()
	assert.Contains(t, fresh.GraphQL.Queries, "alphaQuery")
	assert.Equal(t, map[string]any{"id": "ID"}, fresh.GraphQL.Types["alphaType"].Definition.(map[string]any)["fields"])
	assert.Equal(t, "alphaPre", fresh.Hooks.Pre["user.created"][0].HandlerName)
}

func TestRegistry_EntriesSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", Contributions{Entries: []Entry{
		{Bucket: BucketQueries, Name: "zeta"},
		{Bucket: BucketQueries, Name: "alpha"},
	}}))

	entries := r.Entries(BucketQueries)

	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[1].Name)
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.PreHooks("user.created")
				r.Snapshot()
				r.Has(BucketQueries, "alphaQuery")
			}
		}(i)
	}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, r.Register(id, sample(id)))
		r.Unregister(id)
	}
	wg.Wait()

	assert.Equal(t, shape(New().Snapshot()), shape(r.Snapshot()))
}

func TestBucketMapping(t *testing.T) {
	b, ok := BucketForGraphQL(api.GraphQLSubscription)
	assert.True(t, ok)
	assert.Equal(t, BucketSubscriptions, b)

	_, ok = BucketForGraphQL("field")
	assert.False(t, ok)

	b, ok = BucketForDatabase(api.DatabaseEnum)
	assert.True(t, ok)
	assert.Equal(t, BucketEnums, b)
}

func registered(r *Registry, pluginID string) bool {
	_, ok := r.plugins[pluginID]
	return ok
}
