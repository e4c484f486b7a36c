package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/mongo/document"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/mongo/mapper"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
)

// pluginAuditDAO implements dao.PluginAuditDAO using MongoDB.
type pluginAuditDAO struct {
	records     *mongo.Collection
	transitions *mongo.Collection
	errors      *mongo.Collection
	idCounter   *IDCounter
	mapper      *mapper.PluginAuditMapper
}

// NewPluginAuditDAO creates a new MongoDB-based PluginAuditDAO.
func NewPluginAuditDAO(db *mongo.Database, idCounter *IDCounter) dao.PluginAuditDAO {
	return &pluginAuditDAO{
		records:     db.Collection(document.PluginRecordDocument{}.CollectionName()),
		transitions: db.Collection(document.PluginTransitionDocument{}.CollectionName()),
		errors:      db.Collection(document.PluginErrorDocument{}.CollectionName()),
		idCounter:   idCounter,
		mapper:      mapper.NewPluginAuditMapper(),
	}
}

// SavePlugin upserts a plugin record by its plugin id.
func (d *pluginAuditDAO) SavePlugin(ctx context.Context, record *entity.PluginRecord) error {
	now := time.Now().UTC()
	if record.LastSeenAt.IsZero() {
		record.LastSeenAt = now
	}
	record.UpdatedAt = now

	existing, err := d.FindPlugin(ctx, record.PluginID)
	if err != nil {
		return err
	}
	if existing == nil {
		id, err := d.idCounter.NextID(ctx, d.records.Name())
		if err != nil {
			return err
		}
		record.ID = id
		record.CreatedAt = now
	} else {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}

	doc := d.mapper.RecordToDocument(record)
	update := bson.M{
		"$set": bson.M{
			"numeric_id":   doc.NumericID,
			"name":         doc.Name,
			"version":      doc.Version,
			"description":  doc.Description,
			"author":       doc.Author,
			"dir":          doc.Dir,
			"status":       doc.Status,
			"activated_at": doc.ActivatedAt,
			"last_seen_at": doc.LastSeenAt,
			"created_at":   doc.CreatedAt,
			"updated_at":   doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"error_count": int64(0)},
	}
	_, err = d.records.UpdateOne(ctx, bson.M{"plugin_id": record.PluginID}, update, options.Update().SetUpsert(true))
	return err
}

// FindPlugin retrieves a plugin record by plugin id.
func (d *pluginAuditDAO) FindPlugin(ctx context.Context, pluginID string) (*entity.PluginRecord, error) {
	var doc document.PluginRecordDocument
	err := d.records.FindOne(ctx, bson.M{"plugin_id": pluginID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.mapper.RecordToEntity(&doc), nil
}

// ListPlugins retrieves every plugin record.
func (d *pluginAuditDAO) ListPlugins(ctx context.Context) ([]*entity.PluginRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "plugin_id", Value: 1}})
	cursor, err := d.records.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*document.PluginRecordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return d.mapper.RecordsToEntities(docs), nil
}

// AppendTransition records one lifecycle transition.
func (d *pluginAuditDAO) AppendTransition(ctx context.Context, t *entity.PluginTransition) error {
	id, err := d.idCounter.NextID(ctx, d.transitions.Name())
	if err != nil {
		return err
	}
	t.ID = id
	_, err = d.transitions.InsertOne(ctx, d.mapper.TransitionToDocument(t))
	return err
}

// ListTransitions retrieves transitions newest first.
func (d *pluginAuditDAO) ListTransitions(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginTransition], error) {
	page, size = dao.NormalizePage(page, size)
	docs, total, err := findPage[document.PluginTransitionDocument](ctx, d.transitions, pluginFilter(pluginID), page, size)
	if err != nil {
		return nil, err
	}
	return dao.NewPageResult(d.mapper.TransitionsToEntities(docs), total, page, size), nil
}

// AppendError records an error and bumps the owning record's error count.
func (d *pluginAuditDAO) AppendError(ctx context.Context, e *entity.PluginErrorRecord) error {
	id, err := d.idCounter.NextID(ctx, d.errors.Name())
	if err != nil {
		return err
	}
	e.ID = id
	if _, err := d.errors.InsertOne(ctx, d.mapper.ErrorToDocument(e)); err != nil {
		return err
	}
	_, err = d.records.UpdateOne(ctx,
		bson.M{"plugin_id": e.PluginID},
		bson.M{"$inc": bson.M{"error_count": 1}},
	)
	return err
}

// ListErrors retrieves errors newest first.
func (d *pluginAuditDAO) ListErrors(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginErrorRecord], error) {
	page, size = dao.NormalizePage(page, size)
	docs, total, err := findPage[document.PluginErrorDocument](ctx, d.errors, pluginFilter(pluginID), page, size)
	if err != nil {
		return nil, err
	}
	return dao.NewPageResult(d.mapper.ErrorsToEntities(docs), total, page, size), nil
}
