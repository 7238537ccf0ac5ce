package features

import (
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Settings are the configured values of the known flags.
type Settings struct {
	StrictMatching   bool
	DedupeAcrossRuns bool
	EventHooks       bool
}

// NewFromSettings registers every known flag with the configured values.
func NewFromSettings(s Settings) *Manager {
	m := NewManager()
	m.Register(FeatureStrictMatching, s.StrictMatching,
		"Reject matched brands whose entity id is not in the catalog and copy brand data from the catalog")
	m.Register(FeatureDedupeAcrossRuns, s.DedupeAcrossRuns,
		"Skip matched brands already stored on the conversation when processing it again")
	m.Register(FeatureEventHooksEnabled, s.EventHooks,
		"Publish domain events to subscribed handlers")
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether a flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Enable enables a feature flag. It reports false for an unknown flag.
func (m *Manager) Enable(name string) bool {
	return m.set(name, true)
}

// Disable disables a feature flag. It reports false for an unknown flag.
func (m *Manager) Disable(name string) bool {
	return m.set(name, false)
}

func (m *Manager) set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if exists {
		flag.Enabled = enabled
	}
	return exists
}

// GetAll returns a copy of all feature flags.
func (m *Manager) GetAll() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		result[k] = *v
	}
	return result
}

const (
	FeatureStrictMatching    = "strict_matching"
	FeatureDedupeAcrossRuns  = "dedupe_across_runs"
	FeatureEventHooksEnabled = "event_hooks_enabled"
)
