package dao

import (
	"context"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
)

// PluginAuditDAO persists plugin state, lifecycle transitions and errors.
// List methods take an optional plugin id; empty means every plugin.
type PluginAuditDAO interface {
	// SavePlugin inserts or replaces the record keyed by PluginID.
	SavePlugin(ctx context.Context, record *entity.PluginRecord) error

	// FindPlugin returns nil, nil if the plugin has no record.
	FindPlugin(ctx context.Context, pluginID string) (*entity.PluginRecord, error)

	// ListPlugins returns every record ordered by plugin id.
	ListPlugins(ctx context.Context) ([]*entity.PluginRecord, error)

	// AppendTransition records one lifecycle transition.
	AppendTransition(ctx context.Context, t *entity.PluginTransition) error

	// ListTransitions returns transitions newest first.
	ListTransitions(ctx context.Context, pluginID string, page, size int) (*PageResult[entity.PluginTransition], error)

	// AppendError records one plugin error and bumps the plugin's error count.
	AppendError(ctx context.Context, e *entity.PluginErrorRecord) error

	// ListErrors returns errors newest first.
	ListErrors(ctx context.Context, pluginID string, page, size int) (*PageResult[entity.PluginErrorRecord], error)
}
