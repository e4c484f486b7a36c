package impl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/testutil/mocks"
)

type fakeLookup map[string]api.LoadedPlugin

func (f fakeLookup) Plugin(id string) (api.LoadedPlugin, bool) {
	lp, ok := f[id]
	return lp, ok
}

func setupAuditService(t *testing.T) (service.PluginAuditService, *mocks.MockPluginAuditDAO, fakeLookup) {
	auditDAO := mocks.NewMockPluginAuditDAO()
	lookup := fakeLookup{}
	return NewPluginAuditService(auditDAO, lookup, zaptest.NewLogger(t)), auditDAO, lookup
}

func TestPluginAuditService_OnStatusChange(t *testing.T) {
	svc, _, lookup := setupAuditService(t)
	ctx := context.Background()

	activatedAt := time.Now().UTC()
	lookup["greeter"] = api.LoadedPlugin{
		ID:          "greeter",
		Status:      api.StatusActive,
		Dir:         "/plugins/greeter",
		Manifest:    &api.Manifest{Name: "Greeter", PluginID: "greeter", Version: "1.2.0", Author: "ada"},
		ActivatedAt: &activatedAt,
	}

	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusDiscovered, To: api.StatusLoaded, At: activatedAt.Add(-time.Second)})
	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusLoaded, To: api.StatusActive, At: activatedAt})

	record, err := svc.Plugin(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "active", record.Status)
	assert.Equal(t, "Greeter", record.Name)
	assert.Equal(t, "1.2.0", record.Version)
	assert.Equal(t, "/plugins/greeter", record.Dir)
	assert.Equal(t, &activatedAt, record.ActivatedAt)

	page, err := svc.Transitions(ctx, "greeter", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "active", page.Items[0].ToStatus)
	assert.Equal(t, "loaded", page.Items[0].FromStatus)
}

func TestPluginAuditService_UnloadedPluginKeepsDetails(t *testing.T) {
	svc, _, lookup := setupAuditService(t)
	ctx := context.Background()

	lookup["greeter"] = api.LoadedPlugin{ID: "greeter", Manifest: &api.Manifest{Name: "Greeter", Version: "1.0.0"}}
	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusDiscovered, To: api.StatusLoaded})

	delete(lookup, "greeter")
	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", From: api.StatusInactive, To: api.StatusUnloaded})

	record, err := svc.Plugin(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "unloaded", record.Status)
	assert.Equal(t, "Greeter", record.Name)
	assert.Nil(t, record.ActivatedAt)
	assert.False(t, record.LastSeenAt.IsZero())
}

func TestPluginAuditService_OnError(t *testing.T) {
	svc, _, _ := setupAuditService(t)
	ctx := context.Background()

	svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "greeter", To: api.StatusActive})
	pe := api.NewPluginError("greeter", api.PhaseDispatch, api.KindHook, errors.New("boom"))
	svc.OnError(ctx, pe)

	page, err := svc.Errors(ctx, "greeter", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, pe.ID, page.Items[0].ErrorID)
	assert.Equal(t, "dispatch", page.Items[0].Phase)
	assert.Equal(t, "boom", page.Items[0].Message)

	record, err := svc.Plugin(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.ErrorCount)
}

func TestPluginAuditService_NotFound(t *testing.T) {
	svc, _, _ := setupAuditService(t)

	_, err := svc.Plugin(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrPluginNotFound)

	records, err := svc.Plugins(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPluginAuditService_StoreFailuresAreSwallowed(t *testing.T) {
	svc, auditDAO, _ := setupAuditService(t)
	auditDAO.Err = errors.New("store down")
	ctx := context.Background()

	assert.NotPanics(t, func() {
		svc.OnStatusChange(ctx, manager.StatusEvent{PluginID: "p", To: api.StatusActive})
		svc.OnError(ctx, api.NewPluginError("p", api.PhaseLoad, api.KindLoad, errors.New("x")))
	})

	_, err := svc.Plugins(ctx)
	assert.Error(t, err)
}

func TestPluginAuditService_NilLookup(t *testing.T) {
	auditDAO := mocks.NewMockPluginAuditDAO()
	svc := NewPluginAuditService(auditDAO, nil, nil)

	svc.OnStatusChange(context.Background(), manager.StatusEvent{PluginID: "p", To: api.StatusLoaded})
	record, err := svc.Plugin(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "loaded", record.Status)
	assert.Empty(t, record.Name)
}
