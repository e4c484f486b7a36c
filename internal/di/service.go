package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	serviceimpl "github.com/jrjohn/arcana-plugin-runtime/internal/domain/service/impl"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

// ServiceModule provides service layer dependencies
var ServiceModule = fx.Module("service",
	fx.Provide(providePluginAuditService),
)

// providePluginAuditService returns nil when auditing is off
func providePluginAuditService(auditDAO dao.PluginAuditDAO, m *manager.Manager, logger *zap.Logger) service.PluginAuditService {
	if auditDAO == nil {
		return nil
	}
	return serviceimpl.NewPluginAuditService(auditDAO, m, logger)
}
