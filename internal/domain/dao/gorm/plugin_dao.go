// Package gorm provides the GORM-based audit DAO for SQL databases
// (SQLite, MySQL, PostgreSQL).
package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
)

// pluginAuditDAO implements dao.PluginAuditDAO using GORM.
type pluginAuditDAO struct {
	db *gorm.DB
}

// NewPluginAuditDAO creates a new GORM-based PluginAuditDAO.
func NewPluginAuditDAO(db *gorm.DB) dao.PluginAuditDAO {
	return &pluginAuditDAO{db: db}
}

// Migrate creates the audit tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(entity.Models()...)
}

// SavePlugin upserts a plugin record by its plugin id. The error count is
// owned by AppendError and never overwritten here.
func (d *pluginAuditDAO) SavePlugin(ctx context.Context, record *entity.PluginRecord) error {
	if record.LastSeenAt.IsZero() {
		record.LastSeenAt = time.Now().UTC()
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "plugin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "version", "description", "author", "dir",
			"status", "activated_at", "last_seen_at", "updated_at",
		}),
	}).Create(record).Error
}

// FindPlugin retrieves a plugin record by plugin id.
func (d *pluginAuditDAO) FindPlugin(ctx context.Context, pluginID string) (*entity.PluginRecord, error) {
	var record entity.PluginRecord
	err := d.db.WithContext(ctx).Where("plugin_id = ?", pluginID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListPlugins retrieves every plugin record.
func (d *pluginAuditDAO) ListPlugins(ctx context.Context) ([]*entity.PluginRecord, error) {
	var records []*entity.PluginRecord
	err := d.db.WithContext(ctx).Order("plugin_id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AppendTransition records one lifecycle transition.
func (d *pluginAuditDAO) AppendTransition(ctx context.Context, t *entity.PluginTransition) error {
	return d.db.WithContext(ctx).Create(t).Error
}

// ListTransitions retrieves transitions newest first.
func (d *pluginAuditDAO) ListTransitions(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginTransition], error) {
	return findPage[entity.PluginTransition](ctx, d.db, pluginID, page, size)
}

// AppendError records an error and bumps the owning record's error count.
func (d *pluginAuditDAO) AppendError(ctx context.Context, e *entity.PluginErrorRecord) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return tx.Model(&entity.PluginRecord{}).
			Where("plugin_id = ?", e.PluginID).
			Update("error_count", gorm.Expr("error_count + ?", 1)).Error
	})
}

// ListErrors retrieves errors newest first.
func (d *pluginAuditDAO) ListErrors(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginErrorRecord], error) {
	return findPage[entity.PluginErrorRecord](ctx, d.db, pluginID, page, size)
}

// findPage pages through a plugin-scoped, time-ordered table.
func findPage[T any](ctx context.Context, db *gorm.DB, pluginID string, page, size int) (*dao.PageResult[T], error) {
	page, size = dao.NormalizePage(page, size)

	scoped := func() *gorm.DB {
		var model T
		query := db.WithContext(ctx).Model(&model)
		if pluginID != "" {
			query = query.Where("plugin_id = ?", pluginID)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, err
	}

	var items []*T
	err := scoped().
		Order("occurred_at DESC").
		Order("id DESC").
		Offset(dao.Offset(page, size)).
		Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return dao.NewPageResult(items, total, page, size), nil
}
