// Package testutil holds fixtures shared by package tests: throwaway
// databases, an in-process Redis and on-disk plugin directories.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestLogger creates a logger that writes through t
func NewTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewNopLogger creates a no-op logger
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}

// NewSQLiteDB opens a SQLite database in t's temp dir, closed on cleanup
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewMiniRedis starts an in-process Redis and a client for it
func NewMiniRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// NewTestMongoDB connects to TEST_MONGO_URI and returns a throwaway
// database dropped on cleanup. The test is skipped when the variable is unset.
func NewTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	db := client.Database(fmt.Sprintf("arcana_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

// Manifest returns a manifest with every required field set. Extra
// entries override or extend it.
func Manifest(pluginID string, extra map[string]any) map[string]any {
	m := map[string]any{
		"name":        pluginID,
		"pluginId":    pluginID,
		"version":     "1.0.0",
		"description": "test plugin " + pluginID,
		"author":      "Arcana",
		"main":        "index.lua",
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// WritePlugin writes manifest.json and files (relative path to content)
// into dir, creating it as needed
func WritePlugin(t *testing.T, dir string, manifest map[string]any, files map[string]string) {
	t.Helper()
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatalf("Failed to encode manifest: %v", err)
	}
	writeFile(t, filepath.Join(dir, "manifest.json"), data)
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), []byte(content))
	}
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}
