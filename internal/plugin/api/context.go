package api

import (
	"context"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

// Database is the persistence capability handed to plugins
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
}

// SchemaBuilder is the GraphQL capability handed to plugins
type SchemaBuilder interface {
	// Type returns a named output type known to the host schema
	Type(name string) (graphql.Output, bool)

	// Invalidate forces the next schema request to rebuild
	Invalidate()
}

// PubSub is the publish/subscribe capability handed to plugins
type PubSub interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
	Subscribe(topic string, handler func(ctx context.Context, payload map[string]any)) (func(), error)
}

// PluginContext is the capability object a plugin's entry points receive.
// Any collaborator may be nil when the host does not provide it.
type PluginContext struct {
	PluginID string
	DB       Database
	GraphQL  SchemaBuilder
	PubSub   PubSub
	Logger   *zap.Logger
}
