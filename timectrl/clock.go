package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/topology-simulator/core"
	"github.com/signalsfoundry/topology-simulator/internal/logging"
)

// DefaultPeriod is the tick period used by Step before Start has been
// called with an explicit period.
const DefaultPeriod = 10 * time.Millisecond

var (
	ErrClockNotStopped   = errors.New("clock is not stopped")
	ErrInvalidTransition = errors.New("invalid clock state transition")
	ErrInvalidPeriod     = errors.New("tick period must be positive")
	ErrClockRunning      = errors.New("clock is running")
)

// SimClock gives read access to simulation time so collaborators can
// depend on an abstraction rather than the concrete Clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Tick returns the number of completed ticks.
	Tick() uint64
}

// State is the lifecycle state of a Clock.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Metrics receives per-tick measurements. It is satisfied by the
// Prometheus collector in internal/observability.
type Metrics interface {
	ObserveTick(d time.Duration)
	SetClockState(state string)
}

// Clock drives a Topology in discrete ticks. Each tick steps every
// attached node, recomputes wireless links and then emits the tick
// event. A tick is never interrupted: Stop and Pause take effect
// between ticks.
type Clock struct {
	topo    *core.Topology
	stepper core.Stepper
	log     logging.Logger
	metrics Metrics
	tracer  trace.Tracer
	runID   string

	mu       sync.Mutex
	state    State
	period   time.Duration
	now      time.Time
	resumeCh chan struct{} // non-nil while paused
	cancel   context.CancelFunc
	done     chan struct{}

	tickMu sync.Mutex // serialises loop ticks and manual steps
	tick   atomic.Uint64
}

// Option customises a Clock.
type Option func(*Clock)

// WithStepper sets the per-node algorithm invoked at the start of every
// tick.
func WithStepper(s core.Stepper) Option {
	return func(c *Clock) { c.stepper = s }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Clock) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Clock) { c.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry provider used
// for tick spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Clock) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStartTime sets the simulation time at tick zero.
func WithStartTime(t time.Time) Option {
	return func(c *Clock) { c.now = t }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(c *Clock) {
		if id != "" {
			c.runID = id
		}
	}
}

const tracerName = "github.com/signalsfoundry/topology-simulator/timectrl"

// NewClock constructs a stopped clock driving topo.
func NewClock(topo *core.Topology, opts ...Option) *Clock {
	c := &Clock{
		topo:    topo,
		stepper: core.StaticMotion{},
		log:     logging.Noop(),
		tracer:  otel.Tracer(tracerName),
		runID:   logging.NewRunID(),
		period:  DefaultPeriod,
		now:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("run_id", c.runID))
	return c
}

// RunID identifies this clock's run in logs and traces.
func (c *Clock) RunID() string { return c.runID }

// Topology returns the topology driven by the clock.
func (c *Clock) Topology() *core.Topology { return c.topo }

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick returns the number of completed ticks. Implements SimClock.
func (c *Clock) Tick() uint64 { return c.tick.Load() }

func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) Period() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// SetPeriod changes the tick period; a running clock picks it up after
// the current wait.
func (c *Clock) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, d)
	}
	c.mu.Lock()
	c.period = d
	c.mu.Unlock()
	return nil
}

// Start begins ticking every period. The clock must be stopped, and any
// previous run must have finished its last tick.
func (c *Clock) Start(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	c.mu.Lock()
	if c.state != Stopped {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClockNotStopped, state)
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			return fmt.Errorf("%w: previous run still finishing", ErrClockNotStopped)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.period = period
	c.state = Running
	c.cancel = cancel
	c.done = done
	c.resumeCh = nil
	c.mu.Unlock()

	c.recordState(Running)
	c.log.Info(ctx, "clock started", logging.Duration("period", period))

	go c.loop(ctx, done)
	return nil
}

// Pause suspends ticking. The tick in progress, if any, completes.
func (c *Clock) Pause() error {
	c.mu.Lock()
	if c.state != Running {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state)
	}
	c.state = Paused
	c.resumeCh = make(chan struct{})
	c.mu.Unlock()

	c.recordState(Paused)
	c.log.Info(context.Background(), "clock paused", logging.Uint64("tick", c.Tick()))
	return nil
}

// Resume continues a paused clock. The next tick happens one full
// period after resuming.
func (c *Clock) Resume() error {
	c.mu.Lock()
	if c.state != Paused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state)
	}
	c.state = Running
	close(c.resumeCh)
	c.resumeCh = nil
	c.mu.Unlock()

	c.recordState(Running)
	c.log.Info(context.Background(), "clock resumed", logging.Uint64("tick", c.Tick()))
	return nil
}

// Stop halts the clock from any state. An in-flight tick finishes all
// of its phases first. The returned channel is closed once the
// scheduling goroutine has exited; Stop itself never blocks, so it is
// safe to call from a tick listener.
func (c *Clock) Stop() <-chan struct{} {
	c.mu.Lock()
	done := c.done
	if done == nil {
		done = make(chan struct{})
		close(done)
	}
	if c.state == Stopped {
		c.mu.Unlock()
		return done
	}
	c.state = Stopped
	c.resumeCh = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.recordState(Stopped)
	c.log.Info(context.Background(), "clock stopped", logging.Uint64("tick", c.Tick()))
	return done
}

// Step runs exactly one tick on the calling goroutine. It is meant for
// manual, step-by-step execution and fails while the clock is running.
func (c *Clock) Step(ctx context.Context) (uint64, error) {
	if c.State() == Running {
		return c.Tick(), ErrClockRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tick, _ := c.runTick(ctx, false)
	return tick, nil
}

func (c *Clock) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Ticks run to completion even if Stop cancels ctx meanwhile.
	tickCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(c.Period())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		resumed, ok := c.waitWhilePaused(ctx)
		if !ok {
			return
		}
		if resumed {
			timer.Reset(c.Period())
			continue
		}

		began := time.Now()
		if _, ran := c.runTick(tickCtx, true); !ran {
			// Paused or stopped after the wait; go back to waiting.
			timer.Reset(0)
			continue
		}

		// Best effort: an overrunning tick is followed immediately by
		// the next one, without catching up on missed ticks.
		wait := c.Period() - time.Since(began)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// waitWhilePaused blocks while the clock is paused. It reports whether
// a pause was waited out and false in ok when the clock was stopped.
func (c *Clock) waitWhilePaused(ctx context.Context) (resumed, ok bool) {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()
	if ch == nil {
		return false, ctx.Err() == nil
	}
	select {
	case <-ch:
		return true, true
	case <-ctx.Done():
		return false, false
	}
}

// runTick executes the three phases of one tick and returns its number.
// With whileRunning set the tick is skipped unless the clock is still
// running when it starts; the check shares a critical section with
// Pause and Stop, so no tick begins after either has returned.
func (c *Clock) runTick(ctx context.Context, whileRunning bool) (uint64, bool) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	tick := c.tick.Load() + 1
	c.mu.Lock()
	if whileRunning && c.state != Running {
		c.mu.Unlock()
		return tick - 1, false
	}
	period := c.period
	c.now = c.now.Add(period)
	now := c.now
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "clock.tick", trace.WithAttributes(
		attribute.Int64("sim.tick", int64(tick)),
		attribute.String("sim.run_id", c.runID),
	))
	defer span.End()

	began := time.Now()
	st := core.StepTime{Tick: tick, Time: now, Period: period}

	nodes := c.topo.Nodes()
	if c.stepper != nil {
		for _, n := range nodes {
			// A stepper may remove other nodes during this phase.
			if !n.IsAttached() {
				continue
			}
			c.stepper.Step(ctx, n, st)
		}
	}

	added, removed := c.topo.RecomputeWirelessLinks()
	span.SetAttributes(
		attribute.Int("sim.nodes", len(nodes)),
		attribute.Int("sim.wireless_added", added),
		attribute.Int("sim.wireless_removed", removed),
	)

	c.tick.Store(tick)
	c.topo.EmitTick(tick)

	elapsed := time.Since(began)
	if c.metrics != nil {
		c.metrics.ObserveTick(elapsed)
	}
	c.log.Debug(ctx, "tick",
		logging.Uint64("tick", tick),
		logging.Int("wireless_added", added),
		logging.Int("wireless_removed", removed),
		logging.Duration("took", elapsed),
	)
	return tick, true
}

func (c *Clock) recordState(s State) {
	if c.metrics != nil {
		c.metrics.SetClockState(s.String())
	}
}
