package entity

import (
	"time"
)

// PluginRecord is the last known state of one plugin
type PluginRecord struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	PluginID    string     `gorm:"uniqueIndex;size:100;not null" json:"plugin_id"`
	Name        string     `gorm:"size:200" json:"name"`
	Version     string     `gorm:"size:50" json:"version"`
	Description string     `gorm:"size:1000" json:"description,omitempty"`
	Author      string     `gorm:"size:200" json:"author,omitempty"`
	Dir         string     `gorm:"size:500" json:"dir,omitempty"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	ActivatedAt *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	ErrorCount  int64      `gorm:"not null;default:0" json:"error_count"`
	LastSeenAt  time.Time  `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for PluginRecord
func (PluginRecord) TableName() string {
	return "plugin_records"
}

// IsActive checks if the plugin was last seen active
func (p *PluginRecord) IsActive() bool {
	return p.Status == "active"
}

// PluginTransition is one recorded lifecycle transition
type PluginTransition struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PluginID   string    `gorm:"index;size:100;not null" json:"plugin_id"`
	FromStatus string    `gorm:"size:20" json:"from"`
	ToStatus   string    `gorm:"size:20;not null" json:"to"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
}

// TableName specifies the table name for PluginTransition
func (PluginTransition) TableName() string {
	return "plugin_transitions"
}

// PluginErrorRecord is one persisted plugin error
type PluginErrorRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ErrorID    string    `gorm:"uniqueIndex;size:36;not null" json:"error_id"`
	PluginID   string    `gorm:"index;size:100;not null" json:"plugin_id"`
	Phase      string    `gorm:"size:20;not null" json:"phase"`
	Kind       string    `gorm:"size:20;not null" json:"kind"`
	Message    string    `gorm:"type:text" json:"message"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
}

// TableName specifies the table name for PluginErrorRecord
func (PluginErrorRecord) TableName() string {
	return "plugin_error_records"
}

// Models lists every entity migrated into a SQL audit store
func Models() []any {
	return []any{&PluginRecord{}, &PluginTransition{}, &PluginErrorRecord{}}
}
