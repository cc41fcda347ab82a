package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/errors"
)

// Holder provides thread-safe access to configuration with hot reload.
type Holder struct {
	config   *Config
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stopCh   chan struct{}
	path     string
	onChange []func(*Config)
	onError  []func(error)
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewHolder loads the initial configuration from path.
func NewHolder(path string, logger *zap.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "absolute path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// SetLogger replaces the logger used for reload and watch messages.
func (h *Holder) SetLogger(l *zap.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reads the file again. On failure the old configuration is kept.
func (h *Holder) Reload() error {
	h.logger.Info("reloading configuration", zap.String("path", h.path))

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error("config reload failed, keeping old config", zap.Error(err))
		h.mu.RLock()
		hooks := h.onError
		h.mu.RUnlock()
		for _, fn := range hooks {
			fn(err)
		}
		return err
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	hooks := h.onChange
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	for _, fn := range hooks {
		fn(newCfg)
	}
	h.logger.Info("configuration reloaded")
	return nil
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers fn to run after every failed reload.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// WatchFile reloads whenever the file is written or replaced.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create watcher")
	}

	// Watch the directory; editors often save by rename.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "watch directory")
	}
	h.watcher = watcher

	go h.watchLoop(watcher)

	h.logger.Info("watching config file", zap.String("path", h.path))
	return nil
}

// Stop ends file watching.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug("config file changed",
				zap.String("event", event.Op.String()),
				zap.String("file", event.Name))
			_ = h.Reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error("file watcher error", zap.Error(err))

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info("log level changed",
			zap.String("old", old.Logging.Level),
			zap.String("new", new.Logging.Level))
	}
	if old.Limits.MaxLength != new.Limits.MaxLength {
		h.logger.Info("max length changed",
			zap.Int("old", old.Limits.MaxLength),
			zap.Int("new", new.Limits.MaxLength))
	}
	if old.HTTP.Addr != new.HTTP.Addr {
		h.logger.Warn("http.addr changed; takes effect after restart",
			zap.String("old", old.HTTP.Addr),
			zap.String("new", new.HTTP.Addr))
	}
}

// ReloadableFields lists fields applied without a restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
	}
}
