package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
)

// EnumValue is one value of a plugin-declared enum
type EnumValue struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PluginID  string    `gorm:"size:100;not null;index" json:"plugin_id"`
	EnumName  string    `gorm:"size:100;not null;uniqueIndex:idx_enum_value" json:"enum_name"`
	Value     string    `gorm:"size:255;not null;uniqueIndex:idx_enum_value" json:"value"`
	Position  int       `gorm:"not null" json:"position"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for EnumValue
func (EnumValue) TableName() string {
	return "plugin_enum_values"
}

// SchemaSync creates the tables and enum values active plugins declare.
// Tables are only ever created, never altered or dropped.
type SchemaSync struct {
	db       *gorm.DB
	registry registry.Reader
	logger   *zap.Logger
}

var _ manager.Provisioner = (*SchemaSync)(nil)

// NewSchemaSync creates a schema sync reading reg
func NewSchemaSync(db *gorm.DB, reg registry.Reader, logger *zap.Logger) *SchemaSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaSync{db: db, registry: reg, logger: logger.Named("schema_sync")}
}

// Migrate creates the host's own bookkeeping tables
func (s *SchemaSync) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&EnumValue{})
}

// Sync creates every registered table and enum
func (s *SchemaSync) Sync(ctx context.Context) error {
	return s.sync(ctx, func(registry.Entry) bool { return true })
}

// SyncPlugin creates the tables and enums registered by one plugin
func (s *SchemaSync) SyncPlugin(ctx context.Context, pluginID string) error {
	return s.sync(ctx, func(e registry.Entry) bool { return e.PluginID == pluginID })
}

type plannedTable struct {
	entry registry.Entry
	table Table
}

type plannedEnum struct {
	entry  registry.Entry
	values []string
}

// sync parses every included definition first; nothing is created unless
// all of them are valid
func (s *SchemaSync) sync(ctx context.Context, include func(registry.Entry) bool) error {
	var (
		tables []plannedTable
		enums  []plannedEnum
		errs   []error
	)
	for _, e := range s.registry.Entries(registry.BucketTables) {
		if !include(e) {
			continue
		}
		table, err := ParseTable(e.Name, e.Definition)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tables = append(tables, plannedTable{entry: e, table: table})
	}
	for _, e := range s.registry.Entries(registry.BucketEnums) {
		if !include(e) {
			continue
		}
		values, err := ParseEnum(e.Name, e.Definition)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		enums = append(enums, plannedEnum{entry: e, values: values})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, t := range tables {
		errs = append(errs, s.createTable(ctx, t))
	}
	for _, e := range enums {
		errs = append(errs, s.syncEnum(ctx, e))
	}
	return errors.Join(errs...)
}

func (s *SchemaSync) createTable(ctx context.Context, t plannedTable) error {
	stmt := t.table.CreateSQL(s.db.Dialector.Name(), s.quote)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.entry.Name, err)
	}
	s.logger.Debug("table synced",
		zap.String("plugin_id", t.entry.PluginID),
		zap.String("table", t.entry.Name),
	)
	return nil
}

func (s *SchemaSync) syncEnum(ctx context.Context, e plannedEnum) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("enum_name = ?", e.entry.Name).Delete(&EnumValue{}).Error; err != nil {
			return err
		}
		rows := make([]EnumValue, 0, len(e.values))
		for i, v := range e.values {
			rows = append(rows, EnumValue{PluginID: e.entry.PluginID, EnumName: e.entry.Name, Value: v, Position: i})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to sync enum %s: %w", e.entry.Name, err)
	}
	s.logger.Debug("enum synced",
		zap.String("plugin_id", e.entry.PluginID),
		zap.String("enum", e.entry.Name),
		zap.Int("values", len(e.values)),
	)
	return nil
}

// EnumValues returns the stored values of an enum in declaration order
func (s *SchemaSync) EnumValues(ctx context.Context, name string) ([]string, error) {
	var rows []EnumValue
	err := s.db.WithContext(ctx).
		Where("enum_name = ?", name).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		values = append(values, r.Value)
	}
	return values, nil
}

func (s *SchemaSync) quote(name string) string {
	return s.db.Statement.Quote(name)
}
