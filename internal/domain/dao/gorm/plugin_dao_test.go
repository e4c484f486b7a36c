package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
	"github.com/jrjohn/arcana-plugin-runtime/internal/testutil"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestPluginAuditDAO_SaveAndFindPlugin(t *testing.T) {
	dao := NewPluginAuditDAO(setupTestDB(t))
	ctx := context.Background()

	record := &entity.PluginRecord{PluginID: "greeter", Name: "Greeter", Version: "1.0.0", Status: "loaded"}
	require.NoError(t, dao.SavePlugin(ctx, record))
	assert.False(t, record.LastSeenAt.IsZero())

	now := time.Now().UTC()
	require.NoError(t, dao.SavePlugin(ctx, &entity.PluginRecord{
		PluginID: "greeter", Name: "Greeter", Version: "1.1.0", Status: "active", ActivatedAt: &now,
	}))

	found, err := dao.FindPlugin(ctx, "greeter")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "1.1.0", found.Version)
	assert.True(t, found.IsActive())
	assert.NotNil(t, found.ActivatedAt)

	missing, err := dao.FindPlugin(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPluginAuditDAO_ListPlugins(t *testing.T) {
	dao := NewPluginAuditDAO(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, dao.SavePlugin(ctx, &entity.PluginRecord{PluginID: id, Status: "loaded"}))
	}

	records, err := dao.ListPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].PluginID)
	assert.Equal(t, "zeta", records[2].PluginID)
}

func TestPluginAuditDAO_Transitions(t *testing.T) {
	dao := NewPluginAuditDAO(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC()

	steps := []struct{ plugin, from, to string }{
		{"greeter", "discovered", "loaded"},
		{"greeter", "loaded", "active"},
		{"audit", "discovered", "loaded"},
		{"greeter", "active", "inactive"},
	}
	for i, s := range steps {
		require.NoError(t, dao.AppendTransition(ctx, &entity.PluginTransition{
			PluginID: s.plugin, FromStatus: s.from, ToStatus: s.to,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := dao.ListTransitions(ctx, "greeter", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "inactive", page.Items[0].ToStatus)
	assert.Equal(t, "active", page.Items[1].ToStatus)
	assert.True(t, page.HasNext())

	page, err = dao.ListTransitions(ctx, "greeter", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "loaded", page.Items[0].ToStatus)

	all, err := dao.ListTransitions(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.TotalCount)
	assert.Equal(t, 1, all.Page)
}

func TestPluginAuditDAO_Errors(t *testing.T) {
	dao := NewPluginAuditDAO(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, dao.SavePlugin(ctx, &entity.PluginRecord{PluginID: "greeter", Status: "active"}))
	for i, id := range []string{"e1", "e2"} {
		require.NoError(t, dao.AppendError(ctx, &entity.PluginErrorRecord{
			ErrorID: id, PluginID: "greeter", Phase: "dispatch", Kind: "hook",
			Message: "boom", OccurredAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, dao.AppendError(ctx, &entity.PluginErrorRecord{
		ErrorID: "e3", PluginID: "unknown", Phase: "load", Kind: "manifest", OccurredAt: time.Now().UTC(),
	}))
	assert.Error(t, dao.AppendError(ctx, &entity.PluginErrorRecord{
		ErrorID: "e1", PluginID: "greeter", Phase: "load", Kind: "load", OccurredAt: time.Now().UTC(),
	}))

	page, err := dao.ListErrors(ctx, "greeter", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.Equal(t, "e2", page.Items[0].ErrorID)

	record, err := dao.FindPlugin(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.ErrorCount)

	require.NoError(t, dao.SavePlugin(ctx, &entity.PluginRecord{PluginID: "greeter", Status: "inactive"}))
	record, err = dao.FindPlugin(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.ErrorCount)
}
