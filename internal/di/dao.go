package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	gormdao "github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/gorm"
	mongodao "github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/mongo"
)

// DAOModule provides the audit DAO for the configured audit store
var DAOModule = fx.Module("dao",
	fx.Provide(
		provideMongoIDCounter,
		providePluginAuditDAO,
	),
)

// provideMongoIDCounter returns nil unless the audit store is mongodb
func provideMongoIDCounter(mongoDB *MongoDatabase) *mongodao.IDCounter {
	if mongoDB.DB == nil {
		return nil
	}
	return mongodao.NewIDCounter(mongoDB.DB)
}

// providePluginAuditDAO returns nil when auditing is off
func providePluginAuditDAO(
	cfg *config.AuditConfig,
	sqlDB *SQLDatabase,
	mongoDB *MongoDatabase,
	idCounter *mongodao.IDCounter,
) dao.PluginAuditDAO {
	switch config.AuditStore(cfg.Store) {
	case config.AuditMongoDB:
		return mongodao.NewPluginAuditDAO(mongoDB.DB, idCounter)
	case config.AuditDatabase:
		if sqlDB.DB != nil {
			return gormdao.NewPluginAuditDAO(sqlDB.DB)
		}
	}
	return nil
}
