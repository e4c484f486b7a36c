// Package logger builds the runtime's zap loggers.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // "json" or "console"
}

// New builds a zap logger writing to stdout. An unparsable level falls
// back to info.
func New(cfg Config) (*zap.Logger, error) {
	return cfg.zapConfig().Build()
}

func (c Config) zapConfig() zap.Config {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc
}

// ForPlugin returns a child logger scoped to a single plugin
func ForPlugin(logger *zap.Logger, pluginID string) *zap.Logger {
	return logger.Named("plugin").With(zap.String("plugin_id", pluginID))
}
