package document

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PluginRecordDocument represents a plugin's last known state in MongoDB.
type PluginRecordDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	NumericID   uint               `bson:"numeric_id"` // For compatibility with SQL-based IDs
	PluginID    string             `bson:"plugin_id"`
	Name        string             `bson:"name"`
	Version     string             `bson:"version"`
	Description string             `bson:"description,omitempty"`
	Author      string             `bson:"author,omitempty"`
	Dir         string             `bson:"dir,omitempty"`
	Status      string             `bson:"status"`
	ActivatedAt *time.Time         `bson:"activated_at,omitempty"`
	ErrorCount  int64              `bson:"error_count"`
	LastSeenAt  time.Time          `bson:"last_seen_at"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

// CollectionName returns the MongoDB collection name for plugin records.
func (PluginRecordDocument) CollectionName() string {
	return "plugin_records"
}

// PluginTransitionDocument represents one lifecycle transition.
type PluginTransitionDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	NumericID  uint               `bson:"numeric_id"`
	PluginID   string             `bson:"plugin_id"`
	FromStatus string             `bson:"from"`
	ToStatus   string             `bson:"to"`
	OccurredAt time.Time          `bson:"occurred_at"`
}

// CollectionName returns the MongoDB collection name for transitions.
func (PluginTransitionDocument) CollectionName() string {
	return "plugin_transitions"
}

// PluginErrorDocument represents one recorded plugin error.
type PluginErrorDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	NumericID  uint               `bson:"numeric_id"`
	ErrorID    string             `bson:"error_id"`
	PluginID   string             `bson:"plugin_id"`
	Phase      string             `bson:"phase"`
	Kind       string             `bson:"kind"`
	Message    string             `bson:"message"`
	OccurredAt time.Time          `bson:"occurred_at"`
}

// CollectionName returns the MongoDB collection name for plugin errors.
func (PluginErrorDocument) CollectionName() string {
	return "plugin_errors"
}
