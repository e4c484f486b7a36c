// Package pcontext builds the capability object handed to plugin code.
package pcontext

import (
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/pkg/logger"
)

// Host groups the collaborators the host exposes to plugins.
// Nil members are simply not offered.
type Host struct {
	DB      api.Database
	GraphQL api.SchemaBuilder
	PubSub  api.PubSub
	Logger  *zap.Logger
}

// New builds the context for one plugin. It performs no I/O.
func New(host Host, manifest *api.Manifest) *api.PluginContext {
	base := host.Logger
	if base == nil {
		base = zap.NewNop()
	}

	var id string
	if manifest != nil {
		id = manifest.PluginID
	}

	pluginLogger := logger.ForPlugin(base, id)
	if manifest != nil && manifest.Version != "" {
		pluginLogger = pluginLogger.With(zap.String("plugin_version", manifest.Version))
	}

	return &api.PluginContext{
		PluginID: id,
		DB:       host.DB,
		GraphQL:  host.GraphQL,
		PubSub:   host.PubSub,
		Logger:   pluginLogger,
	}
}
