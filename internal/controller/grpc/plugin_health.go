package grpc

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

// PluginServicePrefix prefixes the per-plugin health service names
const PluginServicePrefix = "plugin."

var _ manager.Observer = (*PluginHealth)(nil)

// PluginHealth mirrors plugin status into the health service: plugin.<id>
// is SERVING while the plugin is active and NOT_SERVING otherwise
type PluginHealth struct {
	health *health.Server
}

// NewPluginHealth creates a PluginHealth observer
func NewPluginHealth(hs *health.Server) *PluginHealth {
	return &PluginHealth{health: hs}
}

// ServiceName returns the health service name of a plugin
func ServiceName(pluginID string) string {
	return PluginServicePrefix + pluginID
}

// OnStatusChange updates the plugin's health service
func (p *PluginHealth) OnStatusChange(_ context.Context, e manager.StatusEvent) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if e.To == api.StatusActive {
		st = healthpb.HealthCheckResponse_SERVING
	}
	p.health.SetServingStatus(ServiceName(e.PluginID), st)
}

// OnError is a no-op
func (p *PluginHealth) OnError(context.Context, api.PluginError) {}
