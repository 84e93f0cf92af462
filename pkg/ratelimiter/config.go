package ratelimiter

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// LimiterSpec declaratively describes one named limiter's quota, as
// loaded from a limiters.yaml file.
type LimiterSpec struct {
	Name              string `yaml:"name"`
	RequestsPerMinute int64  `yaml:"requests_per_minute"`
}

// MonitorConfig is the monitor's own configuration: where to write logs
// and which limiters to construct at startup.
type MonitorConfig struct {
	LogDir                   string        `yaml:"log_dir"`
	DefaultRequestsPerMinute int64         `yaml:"default_requests_per_minute"`
	Limiters                 []LimiterSpec `yaml:"limiters"`
}

var (
	configMu sync.RWMutex
	current  *MonitorConfig
)

// Configure installs cfg as the package's active configuration. Safe for
// concurrent use; idempotent if called repeatedly with the same value.
func Configure(cfg MonitorConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	c := cfg
	current = &c
}

// CurrentConfig returns the active configuration or, if Configure has
// never been called, a MonitorConfig whose only set field is
// DefaultRequestsPerMinute, at the monitor's built-in default of 300.
func CurrentConfig() MonitorConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	if current == nil {
		return MonitorConfig{DefaultRequestsPerMinute: defaultRequestsPerMinute}
	}
	return *current
}

// LoadLimiterConfigYAML parses a limiters.yaml document, e.g.:
//
//	log_dir: /var/log/ratellmiter
//	default_requests_per_minute: 300
//	limiters:
//	  - name: claude-sonnet
//	    requests_per_minute: 600
//	  - name: gpt-4o
//	    requests_per_minute: 300
func LoadLimiterConfigYAML(data []byte) (MonitorConfig, error) {
	var cfg MonitorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MonitorConfig{}, fmt.Errorf("ratelimiter: parse limiter config: %w", err)
	}
	return cfg, nil
}

// LoadLimiterConfigFile reads and parses a limiters.yaml file from disk.
func LoadLimiterConfigFile(path string) (MonitorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("ratelimiter: read limiter config %s: %w", path, err)
	}
	return LoadLimiterConfigYAML(data)
}

// ApplyConfig applies cfg to monitor: it overrides the log directory (if
// set) and constructs one Limiter per LimiterSpec, returning them in
// config order.
func ApplyConfig(monitor *Monitor, cfg MonitorConfig, opts ...LimiterOption) []*Limiter {
	if cfg.LogDir != "" {
		monitor.SetLogDir(cfg.LogDir)
	}

	limiters := make([]*Limiter, 0, len(cfg.Limiters))
	for _, spec := range cfg.Limiters {
		limiters = append(limiters, NewLimiter(monitor, spec.Name, spec.RequestsPerMinute, opts...))
	}
	return limiters
}
