package hooks

import (
	"context"
	"time"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

// LifecycleEventPrefix prefixes the host events fired on status changes
const LifecycleEventPrefix = "plugin."

// LifecycleEventName returns the host event fired when a plugin enters status
func LifecycleEventName(status api.Status) string {
	return LifecycleEventPrefix + string(status)
}

// LifecycleEvents fires "plugin.<status>" host events through a Dispatcher
// whenever a plugin changes status, so plugins can react to each other
type LifecycleEvents struct {
	dispatcher *Dispatcher
}

var _ manager.Observer = (*LifecycleEvents)(nil)

// NewLifecycleEvents creates the observer
func NewLifecycleEvents(d *Dispatcher) *LifecycleEvents {
	return &LifecycleEvents{dispatcher: d}
}

// OnStatusChange dispatches the status event
func (l *LifecycleEvents) OnStatusChange(ctx context.Context, e manager.StatusEvent) {
	l.dispatcher.Dispatch(ctx, LifecycleEventName(e.To), map[string]any{
		"pluginId": e.PluginID,
		"from":     string(e.From),
		"to":       string(e.To),
		"at":       e.At.Format(time.RFC3339Nano),
	})
}

// OnError implements manager.Observer
func (l *LifecycleEvents) OnError(context.Context, api.PluginError) {}
