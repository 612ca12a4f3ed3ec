package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/logging"
)

// DefaultReloadInterval is the periodic reload check used by Watch when the
// caller does not override it.
const DefaultReloadInterval = 30 * time.Second

// Manager owns the configuration lifecycle: initial load, hot reload, admin
// mutations, and write-back. The current snapshot is published through an
// atomic pointer; a failed reload leaves the prior snapshot in force.
type Manager struct {
	path   string
	logger logging.Logger

	// mu serializes writers (reload, mutate, save). Readers never take it.
	mu   sync.Mutex
	raw  []byte
	snap atomic.Pointer[Snapshot]
}

// Load reads, validates, and publishes the configuration at path.
// Errors here are fatal at startup.
func Load(path string, logger logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Manager{path: path, logger: logger}

	raw, cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	m.raw = raw
	m.snap.Store(newSnapshot(cfg))

	return m, nil
}

// Snapshot returns the current configuration snapshot.
func (m *Manager) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the configuration file and publishes a new snapshot.
// On any failure the prior snapshot stays in force and the error carries
// KindConfigInvalid. Reloading an unchanged file is a no-op.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, cfg, err := readFile(m.path)
	if err != nil {
		m.logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "config_reload_failed",
			Component: "config",
			Message:   err.Error(),
		})
		return err
	}
	if bytes.Equal(raw, m.raw) {
		return nil
	}

	m.raw = raw
	m.snap.Store(newSnapshot(cfg))

	tiers, users, keys := m.Snapshot().Counts()
	m.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "config_reloaded",
		Component: "config",
		Message:   "configuration reloaded",
		Detail: map[string]string{
			"tiers": strconv.Itoa(tiers),
			"users": strconv.Itoa(users),
			"keys":  strconv.Itoa(keys),
		},
	})
	return nil
}

// Mutate applies an admin mutation on a deep copy of the current
// configuration, validates it, and publishes the result atomically.
// The mutation is in-memory only until Save is called.
func (m *Manager) Mutate(fn func(cfg *Config) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.snap.Load().cfg.Clone()
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.snap.Store(newSnapshot(cfg))
	// Invalidate the raw-bytes cache so the next file reload is not
	// mistaken for a no-op.
	m.raw = nil
	return nil
}

// Save writes the current snapshot back to the configuration file so admin
// mutations survive restart and reload. The write is atomic (temp + rename).
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := Marshal(m.snap.Load().cfg)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "marshal config", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.KindInternal, "write config", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.Wrap(errors.KindInternal, "replace config", err)
	}

	m.raw = data
	m.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "config_saved",
		Component: "config",
		Message:   "configuration written to " + m.path,
	})
	return nil
}

// Watch reloads the configuration when the file changes and on a periodic
// interval, until ctx is cancelled. Reload failures are logged and retried
// on the next trigger; the running snapshot is never disturbed.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.KindInternal, "create config watcher", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and atomic saves replace
	// the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return errors.Wrap(errors.KindInternal, "watch config directory", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = m.Reload() // failure already logged, prior snapshot retained
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		case <-ticker.C:
			_ = m.Reload()
		}
	}
}

// readFile reads and validates a configuration file.
func readFile(path string) ([]byte, *Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.KindConfigInvalid, "read config file", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, nil, errors.Wrap(errors.KindConfigInvalid, "parse config file", err)
	}
	cfg.applyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return raw, cfg, nil
}

// applyEnvOverrides lets deployment environment variables override the
// store connection parameters and admin key from the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORE_HOST"); v != "" {
		cfg.Store.Host = v
	}
	if v := os.Getenv("STORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.Port = port
		}
	}
	if v := os.Getenv("STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = db
		}
	}
	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		if timeout, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Store.Timeout = timeout
		}
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
}
