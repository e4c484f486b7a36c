package di

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	gormdao "github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/gorm"
	mongodao "github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao/mongo"
	"github.com/jrjohn/arcana-plugin-runtime/internal/persistence"
)

const mongoConnectTimeout = 10 * time.Second

// SQLDatabase wraps the *gorm.DB handed to plugins and the audit store.
// DB is nil when the database is disabled.
type SQLDatabase struct {
	DB *gorm.DB
}

// MongoDatabase wraps *mongo.Database for the Mongo audit store.
// DB is nil unless the audit store is mongodb.
type MongoDatabase struct {
	DB     *mongo.Database
	Client *mongo.Client
}

// DatabaseModule provides database dependencies based on config
var DatabaseModule = fx.Module("database",
	fx.Provide(
		provideSQLDatabase,
		provideMongoDatabase,
	),
	fx.Invoke(runMigrations),
)

func provideSQLDatabase(lc fx.Lifecycle, cfg *config.DatabaseConfig, logger *zap.Logger) (*SQLDatabase, error) {
	if !cfg.Enabled {
		logger.Info("Database disabled, plugins get no DB capability")
		return &SQLDatabase{}, nil
	}

	db, err := persistence.Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing SQL database connection")
			return persistence.Close(db)
		},
	})

	return &SQLDatabase{DB: db}, nil
}

func provideMongoDatabase(lc fx.Lifecycle, cfg *config.AuditConfig, logger *zap.Logger) (*MongoDatabase, error) {
	if config.AuditStore(cfg.Store) != config.AuditMongoDB {
		return &MongoDatabase{}, nil
	}

	logger.Info("Connecting to MongoDB",
		zap.String("host", cfg.Mongo.Host),
		zap.Int("port", cfg.Mongo.Port),
		zap.String("database", cfg.Mongo.Name),
	)

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing MongoDB connection")
			return client.Disconnect(ctx)
		},
	})

	return &MongoDatabase{DB: client.Database(cfg.Mongo.Name), Client: client}, nil
}

// runMigrations creates the audit tables or indexes the configured store needs
func runMigrations(sqlDB *SQLDatabase, mongoDB *MongoDatabase, cfg *config.AuditConfig, logger *zap.Logger) error {
	ctx := context.Background()

	switch config.AuditStore(cfg.Store) {
	case config.AuditDatabase:
		if sqlDB.DB == nil {
			return nil
		}
		logger.Info("Running audit table migrations")
		return gormdao.Migrate(ctx, sqlDB.DB)
	case config.AuditMongoDB:
		logger.Info("Creating MongoDB audit indexes")
		return mongodao.CreateIndexes(ctx, mongoDB.DB)
	}
	return nil
}
