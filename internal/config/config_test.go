package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/topology-simulator/core"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadWithEnv("", nil)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultWirelessRange, cfg.Topology.WirelessRange)
	assert.Equal(t, "undirected", cfg.Topology.DefaultOrientation)
	assert.Equal(t, "clockbased", cfg.Topology.RefreshMode)
	assert.Equal(t, 100*time.Millisecond, cfg.Clock.Period)
	assert.Equal(t, 1024, cfg.HTTP.EventHistory)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, `
scenario: scenarios/ring.yaml
clock:
  period: 250ms
  duration: 1m
  start_paused: true
topology:
  wireless_range: 42.5
  default_orientation: directed
  refresh_mode: eventbased
  motion: linear
generator:
  nodes: 5
  width: 100
  height: 50
  wired: true
http:
  addr: 127.0.0.1:9000
  allowed_origins: ["http://localhost:3000"]
  event_history: 64
log:
  level: debug
  format: text
`)

	cfg, err := LoadWithEnv(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "scenarios/ring.yaml", cfg.Scenario)
	assert.Equal(t, 250*time.Millisecond, cfg.Clock.Period)
	assert.Equal(t, time.Minute, cfg.Clock.Duration)
	assert.True(t, cfg.Clock.StartPaused)
	assert.Equal(t, 42.5, cfg.Topology.WirelessRange)
	assert.Equal(t, "linear", cfg.Topology.Motion)
	assert.Equal(t, 5, cfg.Generator.Nodes)
	assert.True(t, cfg.Generator.Wired)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 64, cfg.HTTP.EventHistory)
	assert.Equal(t, "debug", cfg.Logging().Level)
	assert.Equal(t, "text", cfg.Logging().Format)

	topo := core.New(cfg.TopologyOptions()...)
	assert.Equal(t, 42.5, topo.WirelessRange())
	assert.Equal(t, core.Directed, topo.DefaultOrientation())
	assert.Equal(t, core.EventBased, topo.RefreshMode())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "topology:\n  wireless_range: 10\n")

	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"SIM_WIRELESS_RANGE":       "75",
		"SIM_CLOCK_PERIOD":         "2s",
		"SIM_GENERATOR_NODES":      "3",
		"SIM_REFRESH_MODE":         "eventbased",
		"SIM_HTTP_ALLOWED_ORIGINS": "http://a, http://b,,",
		"LOG_LEVEL":                "warn",
	}))
	require.NoError(t, err)

	assert.Equal(t, 75.0, cfg.Topology.WirelessRange)
	assert.Equal(t, 2*time.Second, cfg.Clock.Period)
	assert.Equal(t, 3, cfg.Generator.Nodes)
	assert.Equal(t, "eventbased", cfg.Topology.RefreshMode)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestTracingFromEnvironment(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(map[string]string{
		"SIM_TRACING_ENABLED":      "true",
		"SIM_TRACING_EXPORTER":     "otlp",
		"SIM_OTLP_ENDPOINT":        "collector:4317",
		"SIM_TRACING_SAMPLE_RATIO": "0.25",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
	assert.Equal(t, "topology-simulator", cfg.Tracing.ServiceName)
}

func TestInvalidValuesAreRejected(t *testing.T) {
	cases := map[string]map[string]string{
		"orientation":  {"SIM_DEFAULT_ORIENTATION": "sideways"},
		"refresh mode": {"SIM_REFRESH_MODE": "sometimes"},
		"range":        {"SIM_WIRELESS_RANGE": "-1"},
		"range syntax": {"SIM_WIRELESS_RANGE": "far"},
		"period":       {"SIM_CLOCK_PERIOD": "0s"},
		"period units": {"SIM_CLOCK_PERIOD": "10"},
		"nodes":        {"SIM_GENERATOR_NODES": "-4"},
		"motion":       {"SIM_MOTION": "teleport"},
		"log level":    {"LOG_LEVEL": "chatty"},
		"exporter":     {"SIM_TRACING_EXPORTER": "zipkin"},
		"sample ratio": {"SIM_TRACING_SAMPLE_RATIO": "1.5"},
		"tracing flag": {"SIM_TRACING_ENABLED": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWithEnv("", envMap(env))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMissingOrMalformedFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)

	_, err = LoadWithEnv(writeFile(t, "clock: [not, a, map]\n"), nil)
	require.Error(t, err)
}
