// Package scanner lists candidate plugin directories under a root.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scan returns the plugin candidate directories directly under root,
// sorted by path. A missing root yields no candidates and no error.
// Manifests are not inspected here.
func Scan(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat plugins directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugins path %s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if !isDir(entry, path) {
			continue
		}
		dirs = append(dirs, path)
	}

	sort.Strings(dirs)
	return dirs, nil
}

// isDir follows symlinks so linked plugin checkouts are discovered
func isDir(entry fs.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
