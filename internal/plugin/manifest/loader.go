package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pluginid"
)

// DefaultFileName is the manifest file looked up in every plugin directory
const DefaultFileName = "manifest.json"

var yamlFallbacks = []string{"manifest.yaml", "manifest.yml"}

// Loader reads, normalises and validates the manifest of one plugin directory
type Loader struct {
	fileName string
	logger   *zap.Logger
}

// NewLoader creates a manifest loader
func NewLoader(fileName string, logger *zap.Logger) *Loader {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		fileName: fileName,
		logger:   logger.Named("manifest"),
	}
}

// Load returns the validated manifest of dir. Failures are *LoadError.
func (l *Loader) Load(dir string) (*api.Manifest, error) {
	path, data, err := l.read(dir)
	if err != nil {
		return nil, err
	}

	raw, err := decode(path, data)
	if err != nil {
		return nil, &LoadError{Kind: KindUnparsable, Path: path, Err: err}
	}

	normalize(raw)

	result := Validate(raw)
	if !result.Valid {
		l.logger.Debug("manifest rejected",
			zap.String("path", path),
			zap.Strings("fields", result.Fields()),
		)
		return nil, &LoadError{Kind: KindInvalid, Path: path, Violations: result.Violations}
	}

	manifest, err := toManifest(raw)
	if err != nil {
		return nil, &LoadError{Kind: KindUnparsable, Path: path, Err: err}
	}
	manifest.SetDir(dir)

	l.logger.Debug("manifest loaded",
		zap.String("plugin_id", manifest.PluginID),
		zap.String("version", manifest.Version),
	)

	return manifest, nil
}

func (l *Loader) read(dir string) (string, []byte, error) {
	candidates := []string{l.fileName}
	if l.fileName == DefaultFileName {
		candidates = append(candidates, yamlFallbacks...)
	}

	for _, name := range candidates {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return path, nil, &LoadError{Kind: KindUnparsable, Path: path, Err: err}
		}
	}

	return "", nil, &LoadError{
		Kind: KindNotFound,
		Path: filepath.Join(dir, l.fileName),
		Err:  fs.ErrNotExist,
	}
}

func decode(path string, data []byte) (map[string]any, error) {
	var doc any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}

	raw, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest root must be an object, got %T", doc)
	}
	return raw, nil
}

// normalize derives a missing pluginId from the name
func normalize(raw map[string]any) {
	switch id := raw["pluginId"].(type) {
	case nil:
	case string:
		if id != "" {
			return
		}
	default:
		return
	}
	if name, ok := raw["name"].(string); ok && strings.TrimSpace(name) != "" {
		raw["pluginId"] = pluginid.Generate(name)
	}
}

func toManifest(raw map[string]any) (*api.Manifest, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var m api.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
