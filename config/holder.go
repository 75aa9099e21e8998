package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder owns the live configuration and swaps it atomically on reload.
// Readers call Get; components that need to react to new settings register
// a listener with OnChange.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder loads the file at path and returns a holder seeded with it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, err
	}
	return &Holder{
		path:    abs,
		logger:  logger,
		current: cfg,
		done:    make(chan struct{}),
	}, nil
}

// Get returns the current configuration. The returned value is never
// mutated; a reload installs a fresh Config instead.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Reload re-reads the config file. On failure the previous configuration
// stays in effect and the error is returned.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("reload failed, keeping current config")
		return err
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	listeners := make([]func(*Config), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	h.announce(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// WatchFile watches the config file and reloads on writes. The parent
// directory is watched rather than the file itself so that atomic
// rename-over saves are picked up.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = w

	go func() {
		name := filepath.Base(h.path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				h.logger.Debug().Str("op", ev.Op.String()).Msg("config file changed on disk")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("reload after file change failed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				h.logger.Error().Err(err).Msg("config watcher error")
			case <-h.done:
				return
			}
		}
	}()

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads the config whenever the process receives SIGHUP.
func (h *Holder) WatchSignals() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				h.logger.Info().Msg("SIGHUP received, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("reload on SIGHUP failed")
				}
			case <-h.done:
				return
			}
		}
	}()
}

// Stop shuts down the file watcher and signal handler goroutines.
func (h *Holder) Stop() {
	close(h.done)
	if h.watcher != nil {
		h.watcher.Close()
	}
}

// announce logs the reload and the settings operators most often tune live.
func (h *Holder) announce(prev, next *Config) {
	ev := h.logger.Info()
	if prev.Logging.Level != next.Logging.Level {
		ev = ev.Str("log_level", prev.Logging.Level+" -> "+next.Logging.Level)
	}
	if len(prev.Tiers) != len(next.Tiers) {
		ev = ev.Int("tiers", len(next.Tiers))
	}
	if prev.Quota.FailOpen != next.Quota.FailOpen {
		ev = ev.Bool("fail_open", next.Quota.FailOpen)
	}
	ev.Msg("configuration reloaded")
}

// ReloadableFields lists the settings a reload applies without a restart.
func ReloadableFields() []string {
	return []string{
		"tiers",
		"quota.fail_open",
		"quota.check_timeout",
		"quota.record_timeout",
		"quota.record_retries",
		"logging.level",
		"logging.format",
	}
}

// NonReloadableFields lists the settings that only take effect at startup.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"database.driver",
		"database.dsn",
		"redis.url",
		"redis.enabled",
		"rollup.schedule",
		"metrics.enabled",
	}
}
