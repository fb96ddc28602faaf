// Package watch triggers reindexing when notes in the vault change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes a vault recursively and fires a callback after a
// quiet period, so bursts of file events trigger one reindex.
type Watcher struct {
	root     string
	debounce time.Duration
	trigger  func()
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func New(root string, debounce time.Duration, trigger func(), logger *zap.Logger) *Watcher {
	return &Watcher{root: root, debounce: debounce, trigger: trigger, logger: logger}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()
	defer w.stopTimer()

	if err := addRecursive(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching vault",
		zap.String("path", w.root),
		zap.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New directories must be added to the watch set themselves.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, event.Name); err != nil {
				w.logger.Warn("watching new directory", zap.Error(err))
			}
			return
		}
	}
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return
	}
	if strings.Contains(event.Name, string(filepath.Separator)+".obsidian"+string(filepath.Separator)) {
		return
	}
	w.logger.Debug("change detected",
		zap.String("op", event.Op.String()),
		zap.String("path", event.Name))
	w.bump()
}

// bump restarts the debounce timer; the trigger only fires once the
// vault has been quiet for the full window.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.trigger)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// addRecursive registers path and every directory below it. Non-dir
// paths are ignored.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".obsidian" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
