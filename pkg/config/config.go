// Package config defines the configuration surface for FileSyncManager and
// SyncTarget initialization (spec.md §6 Configuration), plus an optional
// YAML loader for the façade's on-disk defaults file, grounded on the
// teacher's pkg/configuration merge-over-defaults pattern.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerConfig holds FileSyncManager.Initialize options (spec.md §6
// "Recognized options at manager init").
type ManagerConfig struct {
	// InactivityDelayMS is the inactivity delay, in milliseconds. The
	// manager stores it but does not apply it to its targets: each
	// target's watcher debounces with its own window (see
	// synctarget.SetDebounceWindow).
	InactivityDelayMS int64 `yaml:"inactivityDelay"`
	// MaxBatchSize is the configured batch-size limit. The manager stores
	// it but does not cap watcher batches with it.
	MaxBatchSize int `yaml:"maxBatchSize"`
	// MaxRetries is the configured retry limit. The manager stores it but
	// does not count retries of pending changes; a peer's pending queue
	// collapses into a full-resync marker only when it overflows its fixed
	// size.
	MaxRetries int `yaml:"maxRetries"`
}

// Default manager configuration values (spec.md §6).
const (
	DefaultInactivityDelayMS = 1000
	DefaultMaxBatchSize      = 50
	DefaultMaxRetries        = 3
)

// DefaultManagerConfig returns the spec-mandated default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InactivityDelayMS: DefaultInactivityDelayMS,
		MaxBatchSize:      DefaultMaxBatchSize,
		MaxRetries:        DefaultMaxRetries,
	}
}

// InactivityDelay returns the configured debounce window as a
// time.Duration.
func (c ManagerConfig) InactivityDelay() time.Duration {
	return time.Duration(c.InactivityDelayMS) * time.Millisecond
}

// applyDefaults fills any zero-valued field with its spec default, mirroring
// the teacher's configuration-merge approach of layering explicit values
// over defaults rather than requiring every field to be set.
func (c ManagerConfig) applyDefaults() ManagerConfig {
	if c.InactivityDelayMS == 0 {
		c.InactivityDelayMS = DefaultInactivityDelayMS
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Merge layers the non-zero fields of override on top of c's defaults.
func (c ManagerConfig) Merge(override ManagerConfig) ManagerConfig {
	merged := c
	if override.InactivityDelayMS != 0 {
		merged.InactivityDelayMS = override.InactivityDelayMS
	}
	if override.MaxBatchSize != 0 {
		merged.MaxBatchSize = override.MaxBatchSize
	}
	if override.MaxRetries != 0 {
		merged.MaxRetries = override.MaxRetries
	}
	return merged
}

// LoadFromFile reads a YAML defaults file for the façade, layering its
// values over DefaultManagerConfig. A missing file is not an error; it
// simply yields the defaults, matching the teacher's tolerance for an
// absent optional project configuration file.
func LoadFromFile(path string) (ManagerConfig, error) {
	defaults := DefaultManagerConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults, nil
	} else if err != nil {
		return ManagerConfig{}, err
	}

	var loaded ManagerConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return ManagerConfig{}, err
	}

	return defaults.Merge(loaded).applyDefaults(), nil
}
