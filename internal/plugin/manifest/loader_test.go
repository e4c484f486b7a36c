package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

func writeManifest(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestLoader_LoadJSON(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(validManifest())
	require.NoError(t, err)
	writeManifest(t, dir, DefaultFileName, data)

	m, err := NewLoader("", zaptest.NewLogger(t)).Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "greeter", m.PluginID)
	assert.Equal(t, "Greeter", m.Name)
	assert.Equal(t, dir, m.Dir())
	assert.Equal(t, "main.lua", m.Main)
	require.NotNil(t, m.ExtensionPoints)
	require.Len(t, m.ExtensionPoints.GraphQL, 1)
	assert.Equal(t, api.GraphQLQuery, m.ExtensionPoints.GraphQL[0].Type)
	assert.Equal(t, "greetResolver", m.ExtensionPoints.GraphQL[0].Resolver)
}

func TestLoader_GeneratesMissingPluginID(t *testing.T) {
	dir := t.TempDir()
	raw := validManifest()
	delete(raw, "pluginId")
	raw["name"] = "Hello World Plugin"
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	writeManifest(t, dir, DefaultFileName, data)

	m, err := NewLoader(DefaultFileName, nil).Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "hello_world_plugin", m.PluginID)
}

func TestLoader_YAMLFallback(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", []byte(`
name: Audit Log
version: 0.3.1
description: Records user events
author: Arcana
main: main.lua
extensionPoints:
  hooks:
    - type: post
      event: user.created
      handler: recordCreation
      file: hooks.lua
`))

	m, err := NewLoader("", nil).Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "audit_log", m.PluginID)
	require.Len(t, m.Extensions().Hooks, 1)
	assert.Equal(t, api.HookPost, m.Extensions().Hooks[0].Type)
}

func TestLoader_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
		kind  ErrorKind
	}{
		{
			name:  "missing file",
			setup: func(t *testing.T, dir string) {},
			kind:  KindNotFound,
		},
		{
			name: "malformed json",
			setup: func(t *testing.T, dir string) {
				writeManifest(t, dir, DefaultFileName, []byte(`{"name": `))
			},
			kind: KindUnparsable,
		},
		{
			name: "array root",
			setup: func(t *testing.T, dir string) {
				writeManifest(t, dir, DefaultFileName, []byte(`[1, 2]`))
			},
			kind: KindUnparsable,
		},
		{
			name: "invalid contents",
			setup: func(t *testing.T, dir string) {
				writeManifest(t, dir, DefaultFileName, []byte(`{"name": "x", "version": "1.0.0"}`))
			},
			kind: KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			m, err := NewLoader("", nil).Load(dir)

			assert.Nil(t, m)
			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "got %v", err)
			assert.Equal(t, tt.kind, loadErr.Kind)
			assert.NotEmpty(t, loadErr.Error())
		})
	}
}

func TestLoader_InvalidReportsFields(t *testing.T) {
	dir := t.TempDir()
	raw := validManifest()
	delete(raw, "author")
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	writeManifest(t, dir, DefaultFileName, data)

	_, err = NewLoader("", nil).Load(dir)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, KindInvalid, loadErr.Kind)
	require.Len(t, loadErr.Violations, 1)
	assert.Equal(t, "author", loadErr.Violations[0].Field)
}

func TestLoader_NotFoundWrapsErrNotExist(t *testing.T) {
	_, err := NewLoader("", nil).Load(t.TempDir())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
