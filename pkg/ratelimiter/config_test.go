package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLimiterYAML = `
log_dir: /var/log/ratellmiter
default_requests_per_minute: 300
limiters:
  - name: claude-sonnet
    requests_per_minute: 600
  - name: gpt-4o
    requests_per_minute: 300
`

func TestLoadLimiterConfigYAML(t *testing.T) {
	cfg, err := LoadLimiterConfigYAML([]byte(sampleLimiterYAML))
	require.NoError(t, err)
	assert.Equal(t, "/var/log/ratellmiter", cfg.LogDir)
	assert.Equal(t, int64(300), cfg.DefaultRequestsPerMinute)
	require.Len(t, cfg.Limiters, 2)
	assert.Equal(t, "claude-sonnet", cfg.Limiters[0].Name)
	assert.Equal(t, int64(600), cfg.Limiters[0].RequestsPerMinute)
}

func TestLoadLimiterConfigYAMLRejectsMalformedInput(t *testing.T) {
	_, err := LoadLimiterConfigYAML([]byte("limiters: [this is not valid: yaml: ["))
	assert.Error(t, err)
}

func TestConfigureAndCurrentConfigRoundTrip(t *testing.T) {
	want := MonitorConfig{LogDir: "/tmp/x", DefaultRequestsPerMinute: 42}
	Configure(want)
	got := CurrentConfig()
	assert.Equal(t, want.LogDir, got.LogDir)
	assert.Equal(t, want.DefaultRequestsPerMinute, got.DefaultRequestsPerMinute)
}

func TestCurrentConfigDefaultsWhenNeverConfigured(t *testing.T) {
	configMu.Lock()
	current = nil
	configMu.Unlock()

	got := CurrentConfig()
	assert.Equal(t, int64(defaultRequestsPerMinute), got.DefaultRequestsPerMinute)
}

func TestApplyConfigConstructsLimitersInOrder(t *testing.T) {
	m := newTestMonitor(t)
	cfg := MonitorConfig{
		Limiters: []LimiterSpec{
			{Name: "claude-sonnet", RequestsPerMinute: 600},
			{Name: "gpt-4o", RequestsPerMinute: 300},
		},
	}

	limiters := ApplyConfig(m, cfg)
	require.Len(t, limiters, 2)
	assert.Equal(t, "claude-sonnet", limiters[0].Name())
	assert.Equal(t, "gpt-4o", limiters[1].Name())

	_, ok := m.Limiter("claude-sonnet")
	assert.True(t, ok, "expected ApplyConfig to register the limiter with the monitor")
}

func TestApplyConfigOverridesLogDir(t *testing.T) {
	m := newTestMonitor(t)
	dir := t.TempDir()
	ApplyConfig(m, MonitorConfig{LogDir: dir})

	m.mu.Lock()
	got := m.logDir
	m.mu.Unlock()
	assert.Equal(t, dir, got)
}
