package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// ChangeHandler receives the freshly loaded config after the file changes.
// Handlers apply the hot-reloadable bot settings (system prompt, window
// size, rate limits); connection-level settings need a restart.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file on change, debounced, and fans the result
// out to registered handlers. Invalid files are logged and skipped so a
// half-saved edit never takes the running service down.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}

	mu       sync.Mutex
	handlers []ChangeHandler
}

func NewWatcher(configPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:    configPath,
		watcher: w,
		stop:    make(chan struct{}),
	}, nil
}

// OnChange registers a handler called after each successful reload.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching the config file.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(cw.path); err != nil {
		return err
	}
	go cw.watchLoop()
	slog.Info("config.watcher_started", "path", cw.path)
	return nil
}

// Stop halts the watcher.
func (cw *Watcher) Stop() {
	close(cw.stop)
	cw.watcher.Close()
	slog.Info("config.watcher_stopped")
}

func (cw *Watcher) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case <-cw.stop:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config.watcher_error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config.reload_failed", "path", cw.path, "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config.reloaded", "path", cw.path)
}
