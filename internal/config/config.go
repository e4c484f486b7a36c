package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
)

// DatabaseDriver represents supported SQL drivers
type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverMySQL    DatabaseDriver = "mysql"
	DriverPostgres DatabaseDriver = "postgres"
)

// PubSubDriver selects the bus handed to plugins
type PubSubDriver string

const (
	PubSubMemory PubSubDriver = "memory"
	PubSubRedis  PubSubDriver = "redis"
)

// AuditStore selects where plugin lifecycle history is kept
type AuditStore string

const (
	AuditNone     AuditStore = "none"
	AuditDatabase AuditStore = "database"
	AuditMongoDB  AuditStore = "mongodb"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig                   `mapstructure:"app"`
	Server   ServerConfig                `mapstructure:"server"`
	GRPC     GRPCConfig                  `mapstructure:"grpc"`
	Log      LogConfig                   `mapstructure:"log"`
	Plugin   PluginConfig                `mapstructure:"plugin"`
	Hooks    HooksConfig                 `mapstructure:"hooks"`
	GraphQL  GraphQLConfig               `mapstructure:"graphql"`
	Events   WebSocketConfig             `mapstructure:"events"`
	Database DatabaseConfig              `mapstructure:"database"`
	PubSub   PubSubConfig                `mapstructure:"pubsub"`
	Audit    AuditConfig                 `mapstructure:"audit"`
	JWT      JWTConfig                   `mapstructure:"jwt"`
	Admin    AdminConfig                 `mapstructure:"admin"`
	Metrics  observability.MetricsConfig `mapstructure:"metrics"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// GRPCConfig holds the gRPC health server settings
type GRPCConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	Reflection bool   `mapstructure:"reflection"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// PluginConfig holds plugin system settings
type PluginConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Directory       string        `mapstructure:"directory"`
	ManifestFile    string        `mapstructure:"manifest_file"`
	AutoActivate    bool          `mapstructure:"auto_activate"`
	LoadConcurrency int           `mapstructure:"load_concurrency"`
	Watch           bool          `mapstructure:"watch"`
	WatchDebounce   time.Duration `mapstructure:"watch_debounce"`
	RescanSchedule  string        `mapstructure:"rescan_schedule"`
	Lua             LuaConfig     `mapstructure:"lua"`
}

// LuaConfig holds Lua module loader settings
type LuaConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
}

// HooksConfig holds the per-handler circuit breaker template
type HooksConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// Breaker returns the circuit breaker template for hook handlers
func (c HooksConfig) Breaker() *resilience.CircuitBreakerConfig {
	return &resilience.CircuitBreakerConfig{
		FailureThreshold:    c.FailureThreshold,
		SuccessThreshold:    c.SuccessThreshold,
		OpenTimeout:         c.OpenTimeout,
		MaxHalfOpenRequests: 1,
	}
}

// GraphQLConfig holds GraphQL endpoint settings
type GraphQLConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Path             string `mapstructure:"path"`
	PlaygroundPath   string `mapstructure:"playground_path"`
	EnablePlayground bool   `mapstructure:"enable_playground"`
}

// WebSocketConfig holds the lifecycle event stream settings
type WebSocketConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Path              string        `mapstructure:"path"`
	RequireAuth       bool          `mapstructure:"require_auth"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// DatabaseConfig holds the SQL database handed to plugins
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SyncSchema      bool          `mapstructure:"sync_schema"`
}

// PubSubConfig holds the plugin bus settings
type PubSubConfig struct {
	Driver         string      `mapstructure:"driver"`
	LifecycleTopic string      `mapstructure:"lifecycle_topic"`
	Redis          RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel_prefix"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuditConfig holds plugin audit store settings
type AuditConfig struct {
	Store string      `mapstructure:"store"`
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Name       string `mapstructure:"name"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AuthSource string `mapstructure:"auth_source"`
	ReplicaSet string `mapstructure:"replica_set"`
}

// JWTConfig holds JWT token settings
type JWTConfig struct {
	Secret              string        `mapstructure:"secret"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
	Issuer              string        `mapstructure:"issuer"`
}

// AdminConfig holds the admin API credentials and limits
type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RatePeriod   time.Duration `mapstructure:"rate_period"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/arcana-plugins/")

	return load(v)
}

// LoadFile reads configuration from an explicit file
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("ARCANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arcana-plugin-runtime")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("grpc.tls_enabled", false)
	v.SetDefault("grpc.reflection", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "json")

	v.SetDefault("plugin.enabled", true)
	v.SetDefault("plugin.directory", "./plugins")
	v.SetDefault("plugin.manifest_file", "manifest.json")
	v.SetDefault("plugin.auto_activate", true)
	v.SetDefault("plugin.load_concurrency", 4)
	v.SetDefault("plugin.watch", true)
	v.SetDefault("plugin.watch_debounce", 500*time.Millisecond)
	v.SetDefault("plugin.rescan_schedule", "")
	v.SetDefault("plugin.lua.call_timeout", 5*time.Second)
	v.SetDefault("plugin.lua.cache_size", 128)

	v.SetDefault("hooks.failure_threshold", 5)
	v.SetDefault("hooks.success_threshold", 1)
	v.SetDefault("hooks.open_timeout", 30*time.Second)

	v.SetDefault("graphql.enabled", true)
	v.SetDefault("graphql.path", "/graphql")
	v.SetDefault("graphql.playground_path", "/playground")
	v.SetDefault("graphql.enable_playground", true)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.path", "/plugins/events")
	v.SetDefault("events.require_auth", true)
	v.SetDefault("events.read_buffer_size", 1024)
	v.SetDefault("events.write_buffer_size", 1024)
	v.SetDefault("events.handshake_timeout", 10*time.Second)
	v.SetDefault("events.enable_compression", false)
	v.SetDefault("events.heartbeat_interval", 30*time.Second)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", string(DriverSQLite))
	v.SetDefault("database.path", "arcana_plugins.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.name", "arcana_plugins")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.sync_schema", true)

	v.SetDefault("pubsub.driver", string(PubSubMemory))
	v.SetDefault("pubsub.lifecycle_topic", "plugins.lifecycle")
	v.SetDefault("pubsub.redis.host", "localhost")
	v.SetDefault("pubsub.redis.port", 6379)
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.channel_prefix", "arcana:")

	v.SetDefault("audit.store", string(AuditDatabase))
	v.SetDefault("audit.mongo.host", "localhost")
	v.SetDefault("audit.mongo.port", 27017)
	v.SetDefault("audit.mongo.name", "arcana_plugins")

	v.SetDefault("jwt.secret", os.Getenv("JWT_SECRET"))
	v.SetDefault("jwt.access_token_duration", time.Hour)
	v.SetDefault("jwt.issuer", "arcana-plugin-runtime")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.rate_limit", 10)
	v.SetDefault("admin.rate_period", time.Minute)
	v.SetDefault("admin.rate_burst", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.service_name", "arcana-plugin-runtime")
	v.SetDefault("metrics.prometheus_path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "arcana-plugin-runtime")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.exporter_type", "stdout")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.otlp_insecure", true)
	v.SetDefault("tracing.sampling_rate", 1.0)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("allowed origin %q must be \"*\" or start with http:// or https://", origin)
		}
	}
	if c.Plugin.Enabled && c.Plugin.Directory == "" {
		return fmt.Errorf("plugin directory is required")
	}
	if c.Plugin.LoadConcurrency < 0 {
		return fmt.Errorf("plugin load concurrency must not be negative")
	}
	if c.Database.Enabled {
		switch DatabaseDriver(c.Database.Driver) {
		case DriverSQLite, DriverMySQL, DriverPostgres:
		default:
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	}
	switch PubSubDriver(c.PubSub.Driver) {
	case PubSubMemory, PubSubRedis:
	default:
		return fmt.Errorf("unsupported pubsub driver %q", c.PubSub.Driver)
	}
	switch AuditStore(c.Audit.Store) {
	case AuditNone, AuditMongoDB:
	case AuditDatabase:
		if !c.Database.Enabled {
			return fmt.Errorf("audit store %q requires the database", c.Audit.Store)
		}
	default:
		return fmt.Errorf("unsupported audit store %q", c.Audit.Store)
	}
	return nil
}

// DSN returns the connection string for the configured SQL driver
func (c *DatabaseConfig) DSN() string {
	switch DatabaseDriver(c.Driver) {
	case DriverSQLite:
		return c.Path
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	default:
		return ""
	}
}

// URI returns the MongoDB connection URI.
func (c *MongoConfig) URI() string {
	var uri string
	if c.User != "" && c.Password != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Name)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d/%s", c.Host, c.Port, c.Name)
	}

	params := []string{}
	if c.AuthSource != "" {
		params = append(params, "authSource="+c.AuthSource)
	}
	if c.ReplicaSet != "" {
		params = append(params, "replicaSet="+c.ReplicaSet)
	}
	if len(params) > 0 {
		uri += "?" + strings.Join(params, "&")
	}
	return uri
}
