package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabdeck/tabdeck/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompConfig)

// debounce window for editors that write config.toml in multiple events
const watchDebounce = 200 * time.Millisecond

// Watcher watches the config file and reloads it when it changes.
// Reloaded configs are delivered on ChangeChannel as a non-blocking send.
type Watcher struct {
	changeCh  chan *Config
	closeCh   chan struct{}
	closeOnce sync.Once
	watcher   *fsnotify.Watcher
}

// NewWatcher creates and starts a config file watcher.
// Returns nil if the watcher cannot be created (caller falls back to the
// startup config).
func NewWatcher() *Watcher {
	configPath, err := Path()
	if err != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		watchLog.Warn("config_watcher_init_failed", slog.String("error", err.Error()))
		return nil
	}

	// Watch the directory, not the file: editors replace config.toml via
	// rename, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(configPath)); err != nil {
		watchLog.Warn("config_watcher_add_failed",
			slog.String("dir", filepath.Dir(configPath)),
			slog.String("error", err.Error()))
		_ = fw.Close()
		return nil
	}

	w := &Watcher{
		changeCh: make(chan *Config, 1),
		closeCh:  make(chan struct{}),
		watcher:  fw,
	}
	go w.watchLoop(configPath)
	return w
}

func (w *Watcher) watchLoop(configPath string) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != FileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			cfg, err := Reload()
			if err != nil {
				watchLog.Warn("config_reload_failed", slog.String("error", err.Error()))
				continue
			}
			watchLog.Info("config_reloaded")
			// Non-blocking send: drop if the consumer hasn't read the last one
			select {
			case w.changeCh <- cfg:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if ok && err != nil {
				watchLog.Warn("config_watcher_error", slog.String("error", err.Error()))
			}
		}
	}
}

// ChangeChannel returns the channel that receives reloaded configs.
func (w *Watcher) ChangeChannel() <-chan *Config {
	return w.changeCh
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		_ = w.watcher.Close()
	})
}
