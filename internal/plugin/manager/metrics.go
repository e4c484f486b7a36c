package manager

import (
	"context"

	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// MetricsObserver feeds lifecycle transitions and recorded errors into
// the metrics provider
type MetricsObserver struct {
	metrics *observability.MetricsProvider
}

var _ Observer = (*MetricsObserver)(nil)

// NewMetricsObserver creates an observer; a nil provider records nothing
func NewMetricsObserver(mp *observability.MetricsProvider) *MetricsObserver {
	return &MetricsObserver{metrics: mp}
}

// OnStatusChange implements Observer
func (o *MetricsObserver) OnStatusChange(ctx context.Context, e StatusEvent) {
	o.metrics.RecordPluginTransition(ctx, e.PluginID, string(e.From), string(e.To))
}

// OnError implements Observer
func (o *MetricsObserver) OnError(ctx context.Context, pe api.PluginError) {
	o.metrics.RecordPluginError(ctx, pe.PluginID, string(pe.Phase), string(pe.Kind))
}
