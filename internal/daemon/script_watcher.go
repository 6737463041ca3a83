package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// ScriptWatcher reports edits of the build script. The directory is watched
// rather than the file so that editors replacing the file are noticed.
type ScriptWatcher struct {
	path         string
	onChange     func()
	watcher      *fsnotify.Watcher
	stopOnce     sync.Once
	stopChan     chan struct{}
	debounceTime time.Duration
}

// NewScriptWatcher creates a watcher for path that calls onChange after
// writes settle.
func NewScriptWatcher(path string, onChange func()) (*ScriptWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve build script path: %w", err)
	}
	return &ScriptWatcher{
		path:         absPath,
		onChange:     onChange,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		debounceTime: 500 * time.Millisecond,
	}, nil
}

// Start begins watching until ctx ends or Stop is called.
func (w *ScriptWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Info("Watching build script", logfields.Path(w.path))
	go w.watchLoop(ctx)
	return nil
}

// Stop closes the watcher. Safe to call more than once.
func (w *ScriptWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			slog.Warn("Error closing file watcher", logfields.Error(err))
		}
	})
}

func (w *ScriptWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("Build script event", logfields.Path(event.Name), slog.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceTime, w.onChange)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Build script watcher error", logfields.Error(err))
		}
	}
}

// markScriptChanged forces the next cycle to rebuild.
func (o *Orchestrator) markScriptChanged() {
	slog.Info("Build script modified; next cycle will rebuild", logfields.Path(o.config.BuildScriptPath))
	o.scriptChanged.Store(true)
}
