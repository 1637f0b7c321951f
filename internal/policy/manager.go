package policy

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager loads the policy from a config file and keeps it current while
// an administrator edits the file. Readers call Current on every pass, so
// edits apply to the next pass without a restart.
type Manager struct {
	mu      sync.RWMutex
	current Policy

	path   string
	logger *log.Logger
}

// NewManager returns a Manager holding the default policy.
// Use Load to read the config file, or Set for tests.
func NewManager(path string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[policy] ", log.LstdFlags)
	}
	return &Manager{
		current: Default(),
		path:    path,
		logger:  logger,
	}
}

// Current returns the active policy. The returned value is a copy except
// for the priority weight map, which callers must not mutate.
func (m *Manager) Current() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set replaces the active policy after validation.
func (m *Manager) Set(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = p
	m.mu.Unlock()
	return nil
}

// Load reads the config file into the active policy. Missing keys keep
// their defaults; a missing file leaves the defaults untouched.
func (m *Manager) Load() error {
	if m.path == "" {
		return nil
	}
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.logger.Printf("No policy file at %s, using defaults", m.path)
		return nil
	}

	p, err := read(m.path)
	if err != nil {
		return err
	}
	if err := m.Set(p); err != nil {
		return fmt.Errorf("invalid policy in %s: %w", m.path, err)
	}
	m.logger.Printf("Loaded policy from %s", m.path)
	return nil
}

// read parses the config file through viper, layered over defaults.
func read(path string) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)

	def := Default()
	v.SetDefault("sync_interval", def.SyncInterval)
	v.SetDefault("conflict_mode", string(def.ConflictMode))
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("background_sync", def.BackgroundSync)
	v.SetDefault("network_restriction", string(def.NetworkRestriction))
	v.SetDefault("max_cache_bytes", def.MaxCacheBytes)
	v.SetDefault("warn_percent", def.WarnPercent)

	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if p.PriorityWeights == nil {
		p.PriorityWeights = map[string]int{}
	}
	return p, nil
}

// Watch reloads the policy whenever the config file changes.
//
// Blocks until the watcher fails or stopCh closes. Invalid edits are
// logged and skipped; the previous policy stays active.
func (m *Manager) Watch(stopCh <-chan struct{}) error {
	if m.path == "" {
		<-stopCh
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors typically replace the file, which
	// drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-stopCh:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.Load(); err != nil {
				m.logger.Printf("Ignoring policy edit: %v", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Printf("Watcher error: %v", err)
		}
	}
}
