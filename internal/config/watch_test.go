package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/topology-simulator/core"
)

func TestWatcherRequiresFile(t *testing.T) {
	_, err := NewWatcher(Default())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "topology:\n  wireless_range: 10\n")
	cfg, err := LoadWithEnv(path, nil)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path())

	w, err := NewWatcher(cfg, WithDebounce(10*time.Millisecond), WithEnv(envMap(nil)))
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *Config, 4)
	w.OnChange(func(c *Config) { reloaded <- c })

	require.NoError(t, os.WriteFile(path, []byte("topology:\n  wireless_range: 55\n  refresh_mode: eventbased\n"), 0o600))

	select {
	case next := <-reloaded:
		assert.Equal(t, 55.0, next.Topology.WirelessRange)
		assert.Equal(t, 55.0, w.Current().Topology.WirelessRange)

		topo := core.New()
		next.ApplyTopology(topo)
		assert.Equal(t, 55.0, topo.WirelessRange())
		assert.Equal(t, core.EventBased, topo.RefreshMode())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after writing the config file")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := writeFile(t, "topology:\n  wireless_range: 10\n")
	cfg, err := LoadWithEnv(path, nil)
	require.NoError(t, err)

	w, err := NewWatcher(cfg, WithDebounce(time.Hour), WithEnv(envMap(nil)))
	require.NoError(t, err)
	defer w.Close()

	calls := 0
	w.OnChange(func(*Config) { calls++ })

	require.NoError(t, os.WriteFile(path, []byte("topology:\n  wireless_range: -3\n"), 0o600))
	require.ErrorIs(t, w.Reload(), ErrInvalidConfig)
	assert.Same(t, cfg, w.Current())
	assert.Zero(t, calls)

	require.NoError(t, os.WriteFile(path, []byte("topology:\n  wireless_range: 30\n"), 0o600))
	require.NoError(t, w.Reload())
	assert.Equal(t, 30.0, w.Current().Topology.WirelessRange)
	assert.Equal(t, 1, calls)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
