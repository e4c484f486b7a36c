// Package mongo provides the MongoDB-based audit DAO.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
)

// IDCounter hands out numeric ids per collection so Mongo documents map
// onto the same uint-keyed entities the SQL store uses
type IDCounter struct {
	sequences *mongo.Collection
}

type sequence struct {
	Name  string `bson:"_id"`
	Value uint   `bson:"value"`
}

func NewIDCounter(db *mongo.Database) *IDCounter {
	return &IDCounter{sequences: db.Collection("plugin_sequences")}
}

// NextID atomically increments and returns the sequence for collection
func (c *IDCounter) NextID(ctx context.Context, collection string) (uint, error) {
	var seq sequence
	err := c.sequences.FindOneAndUpdate(ctx,
		bson.M{"_id": collection},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&seq)
	return seq.Value, err
}

// pluginFilter scopes a query to one plugin, or every plugin when empty.
func pluginFilter(pluginID string) bson.M {
	if pluginID == "" {
		return bson.M{}
	}
	return bson.M{"plugin_id": pluginID}
}

// findPage reads one newest-first page of documents of type D.
func findPage[D any](ctx context.Context, coll *mongo.Collection, filter bson.M, page, size int) ([]*D, int64, error) {
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSkip(int64(dao.Offset(page, size))).
		SetLimit(int64(size)).
		SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "numeric_id", Value: -1}})

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	docs := make([]*D, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// CreateIndexes creates the indexes the audit collections rely on.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"plugin_records": {
			{Keys: bson.D{{Key: "plugin_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"plugin_transitions": {
			{Keys: bson.D{{Key: "plugin_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
		},
		"plugin_errors": {
			{Keys: bson.D{{Key: "error_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "plugin_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}
