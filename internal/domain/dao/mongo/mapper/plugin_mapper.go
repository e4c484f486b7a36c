// Package mapper converts between audit entities and MongoDB documents.
package mapper

import (
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/mongo/document"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
)

// PluginAuditMapper converts audit entities to and from documents.
type PluginAuditMapper struct{}

// NewPluginAuditMapper creates a new PluginAuditMapper instance.
func NewPluginAuditMapper() *PluginAuditMapper {
	return &PluginAuditMapper{}
}

// RecordToDocument converts a PluginRecord to a PluginRecordDocument.
func (m *PluginAuditMapper) RecordToDocument(r *entity.PluginRecord) *document.PluginRecordDocument {
	if r == nil {
		return nil
	}
	return &document.PluginRecordDocument{
		NumericID:   r.ID,
		PluginID:    r.PluginID,
		Name:        r.Name,
		Version:     r.Version,
		Description: r.Description,
		Author:      r.Author,
		Dir:         r.Dir,
		Status:      r.Status,
		ActivatedAt: r.ActivatedAt,
		ErrorCount:  r.ErrorCount,
		LastSeenAt:  r.LastSeenAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// RecordToEntity converts a PluginRecordDocument to a PluginRecord.
func (m *PluginAuditMapper) RecordToEntity(d *document.PluginRecordDocument) *entity.PluginRecord {
	if d == nil {
		return nil
	}
	return &entity.PluginRecord{
		ID:          d.NumericID,
		PluginID:    d.PluginID,
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		Author:      d.Author,
		Dir:         d.Dir,
		Status:      d.Status,
		ActivatedAt: d.ActivatedAt,
		ErrorCount:  d.ErrorCount,
		LastSeenAt:  d.LastSeenAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// RecordsToEntities converts a slice of documents.
func (m *PluginAuditMapper) RecordsToEntities(docs []*document.PluginRecordDocument) []*entity.PluginRecord {
	out := make([]*entity.PluginRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, m.RecordToEntity(d))
	}
	return out
}

// TransitionToDocument converts a PluginTransition to a document.
func (m *PluginAuditMapper) TransitionToDocument(t *entity.PluginTransition) *document.PluginTransitionDocument {
	if t == nil {
		return nil
	}
	return &document.PluginTransitionDocument{
		NumericID:  t.ID,
		PluginID:   t.PluginID,
		FromStatus: t.FromStatus,
		ToStatus:   t.ToStatus,
		OccurredAt: t.OccurredAt,
	}
}

// TransitionsToEntities converts transition documents to entities.
func (m *PluginAuditMapper) TransitionsToEntities(docs []*document.PluginTransitionDocument) []*entity.PluginTransition {
	out := make([]*entity.PluginTransition, 0, len(docs))
	for _, d := range docs {
		out = append(out, &entity.PluginTransition{
			ID:         d.NumericID,
			PluginID:   d.PluginID,
			FromStatus: d.FromStatus,
			ToStatus:   d.ToStatus,
			OccurredAt: d.OccurredAt,
		})
	}
	return out
}

// ErrorToDocument converts a PluginErrorRecord to a document.
func (m *PluginAuditMapper) ErrorToDocument(e *entity.PluginErrorRecord) *document.PluginErrorDocument {
	if e == nil {
		return nil
	}
	return &document.PluginErrorDocument{
		NumericID:  e.ID,
		ErrorID:    e.ErrorID,
		PluginID:   e.PluginID,
		Phase:      e.Phase,
		Kind:       e.Kind,
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
	}
}

// ErrorsToEntities converts error documents to entities.
func (m *PluginAuditMapper) ErrorsToEntities(docs []*document.PluginErrorDocument) []*entity.PluginErrorRecord {
	out := make([]*entity.PluginErrorRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, &entity.PluginErrorRecord{
			ID:         d.NumericID,
			ErrorID:    d.ErrorID,
			PluginID:   d.PluginID,
			Phase:      d.Phase,
			Kind:       d.Kind,
			Message:    d.Message,
			OccurredAt: d.OccurredAt,
		})
	}
	return out
}
