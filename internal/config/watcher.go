package config

import (
	"context"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file for changes and reloads it. Only configs
// that pass validation are published; invalid reloads surface on Errors.
type Watcher struct {
	path     string
	onChange chan *Config
	onError  chan error
	debounce time.Duration
	logger   logger.ILogger
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, log logger.ILogger) *Watcher {
	return &Watcher{
		path:     path,
		onChange: make(chan *Config, 1),
		onError:  make(chan error, 1),
		debounce: 100 * time.Millisecond,
		logger:   log.SubLogger("ConfigWatcher"),
	}
}

// Changes returns the channel that receives validated configs on file changes.
func (w *Watcher) Changes() <-chan *Config {
	return w.onChange
}

// Errors returns the channel that receives errors during reload.
func (w *Watcher) Errors() <-chan error {
	return w.onError
}

// Start begins watching the config file.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Debugf("started watching config file: %s", w.path)
	go w.watchLoop(ctx, watcher)
	return nil
}

// watchLoop handles file system events, debouncing rapid change bursts.
func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.logger.Debug("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only react to write and create events
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debugf("config file change detected: op=%s", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceChan = debounceTimer.C

		case <-debounceChan:
			debounceChan = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error: %v", err)
			w.reportError(err)
		}
	}
}

// reload loads and validates the config file, then publishes it.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Errorf("failed to reload config: %v", err)
		w.reportError(err)
		return
	}

	if err := cfg.Validate(); err != nil {
		w.logger.Errorf("reloaded config is invalid, keeping current: %v", err)
		w.reportError(fmt.Errorf("invalid config: %w", err))
		return
	}

	w.logger.Infof("config reloaded: path=%s", w.path)

	select {
	case w.onChange <- cfg:
	default:
		// Channel full, drop older update
		w.logger.Warning("config change channel full, dropping update")
	}
}

func (w *Watcher) reportError(err error) {
	select {
	case w.onError <- err:
	default:
	}
}
