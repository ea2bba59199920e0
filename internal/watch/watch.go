// Package watch triggers a callback when rule files below a directory change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Root is the directory to watch recursively.
	Root string
	// Exclude is a directory whose events are ignored, usually the output root.
	Exclude string
	// Extensions limit which files trigger a change.
	Extensions []string
	// Debounce is the quiet period after the last event before firing.
	Debounce time.Duration
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Watcher coalesces file system events into change notifications.
type Watcher struct {
	fsw        *fsnotify.Watcher
	exclude    string
	extensions []string
	debounce   time.Duration
	logger     *slog.Logger
}

// New creates a watcher and registers Root and all its subdirectories.
func New(cfg Config) (*Watcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:        fsw,
		extensions: cfg.Extensions,
		debounce:   debounce,
		logger:     logger,
	}
	if cfg.Exclude != "" {
		if abs, err := filepath.Abs(cfg.Exclude); err == nil {
			w.exclude = abs
		}
	}

	if err := w.addTree(cfg.Root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Root, err)
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addTree recursively adds a directory to the watcher.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (strings.HasPrefix(d.Name(), ".") || w.excluded(path)) {
			return filepath.SkipDir
		}
		w.logger.Debug("watching directory", "path", path)
		return w.fsw.Add(path)
	})
}

func (w *Watcher) excluded(path string) bool {
	if w.exclude == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == w.exclude || strings.HasPrefix(abs, w.exclude+string(filepath.Separator))
}

// relevant reports whether an event should schedule a change.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if w.excluded(event.Name) {
		return false
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	ext := filepath.Ext(event.Name)
	for _, want := range w.extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return len(w.extensions) == 0
}

// Run blocks until ctx is done, calling onChange once per debounced burst
// of relevant events. onChange runs on the Run goroutine, so bursts that
// arrive while it runs are coalesced into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.excluded(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err.Error())
					}
					timer.Reset(w.debounce)
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err.Error())

		case <-timer.C:
			onChange(ctx)
		}
	}
}
