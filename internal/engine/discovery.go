package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Discover walks root and returns every file whose extension matches one of
// exts (case-insensitive), in walk order. The directory at exclude, usually
// the output root, is not descended into.
func Discover(root string, exts []string, exclude string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("rules path: %w", err)
	}
	if !info.IsDir() {
		if matchesExtension(root, exts) {
			return []string{root}, nil
		}
		return nil, nil
	}

	skip := ""
	if exclude != "" {
		if abs, err := filepath.Abs(exclude); err == nil {
			skip = abs
		}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skip != "" && path != root {
				if abs, err := filepath.Abs(path); err == nil && abs == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if matchesExtension(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// Discover walks root with the engine's extensions, skipping its output root.
func (e *Engine) Discover(root string) ([]string, error) {
	return Discover(root, e.extensions, e.outputDir)
}

func matchesExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, want := range exts {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
