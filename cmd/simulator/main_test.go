package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/topology-simulator/internal/config"
	"github.com/signalsfoundry/topology-simulator/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTP.Addr = ""
	cfg.Clock.Period = 2 * time.Millisecond
	cfg.Clock.Duration = 50 * time.Millisecond
	cfg.Generator.Nodes = 8
	cfg.Generator.Wired = true
	cfg.Topology.Motion = "linear"
	return cfg
}

func TestRunWithGeneratedTopology(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	if err := run(context.Background(), testConfig(), log, reg); err != nil {
		t.Fatalf("run: %v", err)
	}

	n, err := testutil.GatherAndCount(reg, "clock_ticks_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("clock_ticks_total series = %d, want 1", n)
	}
	if got, err := testutil.GatherAndCount(reg, "topology_nodes"); err != nil || got != 1 {
		t.Fatalf("topology_nodes series = %d, %v", got, err)
	}
}

func TestRunWithScenarioAndCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Clock.Duration = 0
	cfg.Clock.StartPaused = true
	cfg.Scenario = "../../internal/scenario/testdata/triangle.yaml"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), prometheus.NewRegistry())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestRunRejectsMissingScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Scenario = "does-not-exist.yaml"
	if err := run(context.Background(), cfg, logging.Noop(), prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected an error for a missing scenario file")
	}
}

func TestRunWithWatchedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte("clock:\n  period: 2ms\n  duration: 50ms\nhttp:\n  addr: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadWithEnv(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Watch = true
	cfg.Generator.Nodes = 4

	if err := run(context.Background(), cfg, logging.Noop(), prometheus.NewRegistry()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsWatchWithoutFile(t *testing.T) {
	cfg := testConfig()
	cfg.Watch = true
	if err := run(context.Background(), cfg, logging.Noop(), prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected an error when watching without a config file")
	}
}
