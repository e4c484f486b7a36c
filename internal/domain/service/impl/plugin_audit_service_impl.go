package impl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

// PluginLookup resolves a plugin's current manifest details
type PluginLookup interface {
	Plugin(id string) (api.LoadedPlugin, bool)
}

const auditWriteTimeout = 5 * time.Second

// pluginAuditService implements service.PluginAuditService
type pluginAuditService struct {
	dao    dao.PluginAuditDAO
	lookup PluginLookup
	logger *zap.Logger
}

// NewPluginAuditService creates a new PluginAuditService instance. lookup
// may be nil, in which case records carry only ids and statuses.
func NewPluginAuditService(auditDAO dao.PluginAuditDAO, lookup PluginLookup, logger *zap.Logger) service.PluginAuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pluginAuditService{
		dao:    auditDAO,
		lookup: lookup,
		logger: logger.Named("plugin_audit"),
	}
}

// OnStatusChange stores the transition and refreshes the plugin record.
// Failures are logged; the lifecycle never waits on the audit store.
func (s *pluginAuditService) OnStatusChange(ctx context.Context, e manager.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	err := s.dao.AppendTransition(ctx, &entity.PluginTransition{
		PluginID:   e.PluginID,
		FromStatus: string(e.From),
		ToStatus:   string(e.To),
		OccurredAt: at,
	})
	if err != nil {
		s.logger.Warn("failed to store transition", zap.String("plugin_id", e.PluginID), zap.Error(err))
	}

	record, err := s.record(ctx, e.PluginID)
	if err != nil {
		s.logger.Warn("failed to read plugin record", zap.String("plugin_id", e.PluginID), zap.Error(err))
		return
	}
	record.Status = string(e.To)
	record.LastSeenAt = at
	if e.To != api.StatusActive {
		record.ActivatedAt = nil
	}
	if err := s.dao.SavePlugin(ctx, record); err != nil {
		s.logger.Warn("failed to store plugin record", zap.String("plugin_id", e.PluginID), zap.Error(err))
	}
}

// record merges the stored record with the manager's current view
func (s *pluginAuditService) record(ctx context.Context, pluginID string) (*entity.PluginRecord, error) {
	record, err := s.dao.FindPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &entity.PluginRecord{PluginID: pluginID}
	}
	if s.lookup == nil {
		return record, nil
	}
	if lp, ok := s.lookup.Plugin(pluginID); ok {
		sum := lp.Summary()
		record.Name = sum.Name
		record.Version = sum.Version
		record.Description = sum.Description
		record.Author = sum.Author
		record.Dir = sum.Dir
		record.ActivatedAt = sum.ActivatedAt
	}
	return record, nil
}

// OnError stores a recorded plugin error
func (s *pluginAuditService) OnError(ctx context.Context, pe api.PluginError) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	err := s.dao.AppendError(ctx, &entity.PluginErrorRecord{
		ErrorID:    pe.ID,
		PluginID:   pe.PluginID,
		Phase:      string(pe.Phase),
		Kind:       string(pe.Kind),
		Message:    pe.Message,
		OccurredAt: pe.Timestamp,
	})
	if err != nil {
		s.logger.Warn("failed to store plugin error",
			zap.String("plugin_id", pe.PluginID),
			zap.String("error_id", pe.ID),
			zap.Error(err),
		)
	}
}

func (s *pluginAuditService) Plugins(ctx context.Context) ([]*entity.PluginRecord, error) {
	return s.dao.ListPlugins(ctx)
}

func (s *pluginAuditService) Plugin(ctx context.Context, pluginID string) (*entity.PluginRecord, error) {
	record, err := s.dao.FindPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, service.ErrPluginNotFound
	}
	return record, nil
}

func (s *pluginAuditService) Transitions(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginTransition], error) {
	return s.dao.ListTransitions(ctx, pluginID, page, size)
}

func (s *pluginAuditService) Errors(ctx context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginErrorRecord], error) {
	return s.dao.ListErrors(ctx, pluginID, page, size)
}
