package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/topology-simulator/core"
	"github.com/signalsfoundry/topology-simulator/internal/config"
	"github.com/signalsfoundry/topology-simulator/internal/generator"
	"github.com/signalsfoundry/topology-simulator/internal/inspect"
	"github.com/signalsfoundry/topology-simulator/internal/journal"
	"github.com/signalsfoundry/topology-simulator/internal/logging"
	"github.com/signalsfoundry/topology-simulator/internal/observability"
	"github.com/signalsfoundry/topology-simulator/internal/scenario"
	"github.com/signalsfoundry/topology-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	scenarioPath := flag.String("scenario", "", "scenario file to load (overrides config)")
	httpAddr := flag.String("http-addr", "", "address of the inspection API (overrides config)")
	duration := flag.Duration("duration", 0, "stop after this long (overrides config; 0 runs until interrupted)")
	watch := flag.Bool("watch", false, "reload the config file's clock and topology settings when it changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *scenarioPath != "" {
		cfg.Scenario = *scenarioPath
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *duration > 0 {
		cfg.Clock.Duration = *duration
	}
	if *watch {
		cfg.Watch = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Logging())
	if err := run(ctx, cfg, log, prometheus.NewRegistry()); err != nil {
		log.Error(ctx, "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the simulation together and blocks until ctx is done or
// the configured duration has elapsed.
func run(ctx context.Context, cfg *config.Config, base logging.Logger, reg *prometheus.Registry) error {
	ctx, runID := logging.EnsureRunID(ctx)
	log := base.With(logging.String("run_id", runID))

	tracing, err := observability.StartTracing(ctx, cfg.Tracing, runID, log)
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	topoMetrics, err := observability.NewTopologyCollector(reg)
	if err != nil {
		return fmt.Errorf("topology metrics: %w", err)
	}
	clockMetrics, err := observability.NewClockCollector(reg)
	if err != nil {
		return fmt.Errorf("clock metrics: %w", err)
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return fmt.Errorf("http metrics: %w", err)
	}

	topo := core.New(append(cfg.TopologyOptions(),
		core.WithLogger(log),
		core.WithMetricsRecorder(topoMetrics),
	)...)

	var def core.Stepper = core.StaticMotion{}
	if cfg.Topology.Motion == "linear" {
		def = core.LinearMotion{}
	}
	motion := core.NewMotionSet(def)

	if err := populate(ctx, cfg, topo, motion, log); err != nil {
		return err
	}

	clockOpts := []timectrl.Option{
		timectrl.WithStepper(motion),
		timectrl.WithLogger(base),
		timectrl.WithMetrics(clockMetrics),
		timectrl.WithRunID(runID),
		timectrl.WithTracerProvider(tracing.Provider()),
	}
	if !cfg.Clock.StartTime.IsZero() {
		clockOpts = append(clockOpts, timectrl.WithStartTime(cfg.Clock.StartTime))
	}
	clock := timectrl.NewClock(topo, clockOpts...)

	if cfg.Watch {
		watcher, err := config.NewWatcher(cfg, config.WithWatchLogger(log))
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Close()
		watcher.OnChange(func(next *config.Config) {
			next.ApplyTopology(topo)
			if err := clock.SetPeriod(next.Clock.Period); err != nil {
				log.Warn(ctx, "ignoring reloaded clock period", logging.Err(err))
			}
		})
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		events := journal.New(cfg.HTTP.EventHistory)
		defer events.Attach(topo)()

		api := inspect.NewServer(topo,
			inspect.WithClock(clock),
			inspect.WithJournal(events),
			inspect.WithLogger(log),
			inspect.WithMetricsHandler(topoMetrics.Handler()),
			inspect.WithRequestMetrics(httpMetrics),
			inspect.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
		)
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn(ctx, "inspection server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving inspection API", logging.String("addr", cfg.HTTP.Addr))
	}

	if err := clock.Start(cfg.Clock.Period); err != nil {
		return fmt.Errorf("start clock: %w", err)
	}
	if cfg.Clock.StartPaused {
		if err := clock.Pause(); err != nil {
			return fmt.Errorf("pause clock: %w", err)
		}
	}

	if cfg.Clock.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Clock.Duration)
		defer cancel()
	}
	<-ctx.Done()

	<-clock.Stop()
	log.Info(context.Background(), "simulation finished",
		logging.Uint64("ticks", clock.Tick()),
		logging.Int("nodes", topo.NodeCount()),
		logging.Int("links", topo.LinkCount()),
	)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// populate fills topo from the configured scenario file or, without
// one, from the random generator.
func populate(ctx context.Context, cfg *config.Config, topo *core.Topology, motion *core.MotionSet, log logging.Logger) error {
	if cfg.Scenario != "" {
		file, err := scenario.LoadFile(cfg.Scenario)
		if err != nil {
			return err
		}
		loaded, err := file.Apply(topo, motion)
		if err != nil {
			return err
		}
		log.Info(ctx, "loaded scenario",
			logging.String("path", cfg.Scenario),
			logging.Int("nodes", len(loaded.Nodes)),
			logging.Int("links", len(loaded.Links)),
		)
		return nil
	}

	g := cfg.Generator
	opts := []generator.Option{
		generator.WithArea(0, 0, g.Width, g.Height),
		generator.WithSeed(g.Seed),
	}
	if g.Wired {
		opts = append(opts, generator.WithWiring(g.Directed))
	}
	nodes, err := generator.NewRandomLocations(g.Nodes, opts...).Generate(topo)
	if err != nil {
		return err
	}
	log.Info(ctx, "generated random topology",
		logging.Int("nodes", len(nodes)),
		logging.Int("links", topo.LinkCount()),
	)
	return nil
}
