package service

import (
	"context"
	"errors"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
)

// PluginAuditService persists the plugin lifecycle as it happens and
// answers history queries. It is registered with the plugin manager as an
// observer.
type PluginAuditService interface {
	manager.Observer

	// Plugins returns the last known state of every plugin ever seen
	Plugins(ctx context.Context) ([]*entity.PluginRecord, error)

	// Plugin returns one plugin's last known state or ErrPluginNotFound
	Plugin(ctx context.Context, pluginID string) (*entity.PluginRecord, error)

	// Transitions pages through lifecycle transitions, newest first
	Transitions(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginTransition], error)

	// Errors pages through persisted plugin errors, newest first
	Errors(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginErrorRecord], error)
}
