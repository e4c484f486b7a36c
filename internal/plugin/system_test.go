package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/hooks"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pcontext"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func writeManifest(t *testing.T, dir string, manifest map[string]any) {
	t.Helper()
	data, err := json.MarshalIndent(manifest, "", "  ")
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "manifest.json"), data)
}

func greeterRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plugins")
	dir := filepath.Join(root, "greeter")

	writeManifest(t, dir, map[string]any{
		"name":        "Greeter",
		"pluginId":    "greeter",
		"version":     "1.0.0",
		"description": "Says hello",
		"author":      "Arcana",
		"main":        "index.lua",
		"extensionPoints": map[string]any{
			"graphql": []any{
				map[string]any{"name": "greet", "type": "query", "resolver": "greetResolver", "file": "./resolvers.lua"},
			},
			"hooks": []any{
				map[string]any{"type": "pre", "event": "user.create", "handler": "tagUser", "file": "./resolvers.lua"},
			},
		},
	})
	writeFile(t, filepath.Join(dir, "index.lua"), []byte("return {}\n"))
	writeFile(t, filepath.Join(dir, "resolvers.lua"), []byte(`
local M = {}

function M.greetResolver(args)
  return "Hello, " .. (args.name or "world")
end

function M.tagUser(payload, event)
  payload.greeted_by = "greeter"
  payload.event = event
  return payload
end

return M
`))
	return root
}

func TestInitializePluginSystem_Greeter(t *testing.T) {
	root := greeterRoot(t)
	ctx := context.Background()

	m, err := InitializePluginSystem(ctx, root, pcontext.Host{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	entry, ok := m.Registry().Get(registry.BucketQueries, "greet")
	require.True(t, ok)
	assert.Equal(t, "greeter", entry.PluginID)

	status, ok := m.GetStatus("greeter")
	require.True(t, ok)
	assert.Equal(t, api.StatusActive, status)
	assert.Empty(t, m.GetErrors())

	got, err := entry.Resolver(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada", got)

	d := hooks.NewDispatcher(m.Registry(), m, zaptest.NewLogger(t))
	res := d.Pre(ctx, "user.create", map[string]any{"name": "Ada"})
	assert.Empty(t, res.Failed)
	assert.Equal(t, "greeter", res.Payload["greeted_by"])
	assert.Equal(t, "user.create", res.Payload["event"])
}

func TestInitializePluginSystem_IsolatesBrokenPlugin(t *testing.T) {
	root := greeterRoot(t)
	broken := filepath.Join(root, "broken")
	writeManifest(t, broken, map[string]any{
		"name":        "Broken",
		"pluginId":    "broken",
		"version":     "1.0.0",
		"description": "Fails to import",
		"author":      "Arcana",
		"main":        "index.lua",
	})
	writeFile(t, filepath.Join(broken, "index.lua"), []byte("this is not lua"))

	m, err := InitializePluginSystem(context.Background(), root, pcontext.Host{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	status, _ := m.GetStatus("greeter")
	assert.Equal(t, api.StatusActive, status)

	errs := m.GetErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].PluginID)
	assert.Equal(t, api.KindLoad, errs[0].Kind)
}

func TestInitializePluginSystem_WithoutActivation(t *testing.T) {
	m, err := InitializePluginSystem(context.Background(), greeterRoot(t), pcontext.Host{}, WithoutActivation())
	require.NoError(t, err)

	status, _ := m.GetStatus("greeter")
	assert.Equal(t, api.StatusLoaded, status)
	assert.False(t, m.Registry().Has(registry.BucketQueries, "greet"))
}

func TestInitializePluginSystem_MissingRoot(t *testing.T) {
	m, err := InitializePluginSystem(context.Background(), filepath.Join(t.TempDir(), "none"), pcontext.Host{})
	require.NoError(t, err)
	assert.Empty(t, m.Plugins())
}

func TestInitializePluginSystem_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "plugins")
	writeFile(t, root, []byte("not a directory"))

	_, err := InitializePluginSystem(context.Background(), root, pcontext.Host{})
	assert.Error(t, err)
}

func TestValidatePluginDir(t *testing.T) {
	root := greeterRoot(t)

	mf, err := ValidatePluginDir(context.Background(), filepath.Join(root, "greeter"), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "greeter", mf.PluginID)

	writeFile(t, filepath.Join(root, "greeter", "resolvers.lua"), []byte("return {}"))
	_, err = ValidatePluginDir(context.Background(), filepath.Join(root, "greeter"), nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
