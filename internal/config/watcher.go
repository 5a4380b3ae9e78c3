package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// Watcher reloads configuration when files under the loader's directory
// change. Reloading is only active in development; elsewhere the watcher
// just holds the initial configuration.
type Watcher struct {
	loader    *Loader
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewWatcher starts watching when initial.Environment is development.
func NewWatcher(loader *Loader, initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		loader: loader,
		logger: logger,
		config: initial,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if initial.Environment != Development {
		close(w.done)
		logger.Info("configuration hot reloading disabled",
			zap.String("environment", string(initial.Environment)))
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(loader.BasePath()); err != nil {
		fsWatcher.Close()
		if os.IsNotExist(err) {
			close(w.done)
			logger.Info("configuration directory missing, hot reloading disabled",
				zap.String("dir", loader.BasePath()))
			return w, nil
		}
		return nil, fmt.Errorf("failed to watch %s: %w", loader.BasePath(), err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("configuration hot reloading enabled",
		zap.String("dir", loader.BasePath()))
	return w, nil
}

// OnChange registers a callback invoked with each successfully reloaded
// configuration.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop ends watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	defer w.watcher.Close()

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Debug("configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))

		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// reload loads a fresh configuration; invalid configurations are logged and
// the previous one stays in effect.
func (w *Watcher) reload() {
	next, err := w.loader.Load()
	if err != nil {
		w.logger.Error("invalid configuration after reload, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.config = next
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("configuration callback panicked",
						zap.Int("callback_index", i),
						zap.Any("panic", r))
				}
			}()
			cb(next)
		}()
	}

	w.logger.Info("configuration reloaded",
		zap.Strings("sources", next.LoadedFrom),
		zap.Int("callbacks_notified", len(callbacks)))
}

func isConfigFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
