package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
)

// ReloadHandler receives the freshly loaded config after a file change.
type ReloadHandler func(*Config)

// Watcher reloads the config file when it changes on disk.
// Editors often replace files via rename, so the parent directory is
// watched and events are debounced before reloading.
type Watcher struct {
	path    string
	handler ReloadHandler
	logger  *logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

const reloadDebounce = 250 * time.Millisecond

// Watch starts watching path and invokes handler with each successfully
// reloaded config. Stop the watcher by calling Close.
func Watch(path string, logger *logging.Logger, handler ReloadHandler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeConfigLoad, "creating file watcher")
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeConfigLoad, "watching config directory").
			WithContext("path", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:    path,
		handler: handler,
		logger:  logger,
		watcher: fsw,
		cancel:  cancel,
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(logging.CategoryConfig, "watch_error", err.Error(), nil)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn(logging.CategoryConfig, "reload_failed", err.Error(),
			map[string]any{"path": w.path})
		return
	}
	w.logger.Info(logging.CategoryConfig, "reloaded", "", map[string]any{"path": w.path})
	if w.handler != nil {
		w.handler(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
