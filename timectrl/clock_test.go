package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/topology-simulator/core"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("clock loop did not exit")
	}
}

type fakeMetrics struct {
	mu     sync.Mutex
	ticks  int
	states []string
}

func (m *fakeMetrics) ObserveTick(time.Duration) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *fakeMetrics) SetClockState(s string) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}

func TestClockLifecycleTransitions(t *testing.T) {
	m := &fakeMetrics{}
	c := NewClock(core.New(), WithMetrics(m))

	if c.State() != Stopped {
		t.Fatalf("new clock state = %s, want stopped", c.State())
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pause from stopped error = %v", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume from stopped error = %v", err)
	}

	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(time.Millisecond); !errors.Is(err, ErrClockNotStopped) {
		t.Fatalf("second Start error = %v, want ErrClockNotStopped", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume while running error = %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Pause error = %v", err)
	}
	if err := c.Start(time.Millisecond); !errors.Is(err, ErrClockNotStopped) {
		t.Fatalf("Start while paused error = %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitDone(t, c.Stop())
	if c.State() != Stopped {
		t.Fatalf("state after Stop = %s", c.State())
	}
	waitDone(t, c.Stop())

	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	waitDone(t, c.Stop())

	m.mu.Lock()
	defer m.mu.Unlock()
	want := "[running paused running stopped running stopped]"
	if got := fmt.Sprint(m.states); got != want {
		t.Fatalf("state metrics = %s, want %s", got, want)
	}
}

func TestStartRejectsNonPositivePeriod(t *testing.T) {
	c := NewClock(core.New())
	for _, p := range []time.Duration{0, -time.Second} {
		if err := c.Start(p); !errors.Is(err, ErrInvalidPeriod) {
			t.Fatalf("Start(%s) error = %v, want ErrInvalidPeriod", p, err)
		}
	}
	if err := c.SetPeriod(0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("SetPeriod(0) error = %v", err)
	}
	if c.State() != Stopped {
		t.Fatalf("rejected Start changed state to %s", c.State())
	}
}

func TestTickPhasesRunInOrder(t *testing.T) {
	topo := core.New(core.WithWirelessRange(10))
	topo.AddNode(0, 0, 0, nil)
	topo.AddNode(50, 0, 0, nil)

	var order []string
	stepper := core.StepFunc(func(_ context.Context, n *core.Node, st core.StepTime) {
		order = append(order, fmt.Sprintf("step %v", n))
		if n.ID() == 1 {
			_ = n.SetLocation(5, 0, 0)
		}
	})
	topo.AddListener(&core.ListenerFuncs{
		LinkAdded: func(l *core.Link) { order = append(order, fmt.Sprintf("link %v", l)) },
		Tick:      func(tick uint64) { order = append(order, fmt.Sprintf("tick %d", tick)) },
	})

	c := NewClock(topo, WithStepper(stepper))
	tick, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if tick != 1 || c.Tick() != 1 {
		t.Fatalf("tick = %d / %d, want 1", tick, c.Tick())
	}

	want := "[step 0 step 1 link 0 <--> 1 tick 1]"
	if got := fmt.Sprint(order); got != want {
		t.Fatalf("phase order = %s, want %s", got, want)
	}
}

func TestTickCounterVisibleToTickListeners(t *testing.T) {
	topo := core.New()
	c := NewClock(topo)

	var seen []uint64
	topo.AddListener(&core.ListenerFuncs{Tick: func(tick uint64) {
		if tick != c.Tick() {
			t.Errorf("listener saw tick %d while clock reports %d", tick, c.Tick())
		}
		seen = append(seen, tick)
	}})

	for i := 0; i < 3; i++ {
		if _, err := c.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if fmt.Sprint(seen) != "[1 2 3]" {
		t.Fatalf("ticks = %v", seen)
	}
}

func TestEventBasedRefreshSuppressesTickEvents(t *testing.T) {
	topo := core.New(core.WithRefreshMode(core.EventBased))
	var ticks int
	topo.AddListener(&core.ListenerFuncs{Tick: func(uint64) { ticks++ }})

	c := NewClock(topo)
	for i := 0; i < 3; i++ {
		if _, err := c.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if ticks != 0 {
		t.Fatalf("tick events = %d under event-based refresh", ticks)
	}
	if c.Tick() != 3 {
		t.Fatalf("Tick() = %d, want 3", c.Tick())
	}
}

func TestStepAdvancesSimulationTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	topo := core.New()
	topo.AddNode(0, 0, 0, nil)

	var times []core.StepTime
	c := NewClock(topo,
		WithStartTime(start),
		WithStepper(core.StepFunc(func(_ context.Context, _ *core.Node, st core.StepTime) {
			times = append(times, st)
		})),
	)
	if err := c.SetPeriod(time.Second); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if got, want := c.Now(), start.Add(2*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
	if len(times) != 2 || times[0].Tick != 1 || !times[0].Time.Equal(start.Add(time.Second)) || times[0].Period != time.Second {
		t.Fatalf("step times = %+v", times)
	}
}

func TestStepFailsWhileRunning(t *testing.T) {
	c := NewClock(core.New())
	if err := c.Start(time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Step(context.Background()); !errors.Is(err, ErrClockRunning) {
		t.Fatalf("Step while running error = %v, want ErrClockRunning", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step while paused: %v", err)
	}
	waitDone(t, c.Stop())
	if c.Tick() != 1 {
		t.Fatalf("Tick() = %d, want 1", c.Tick())
	}
}

func TestStepperMayRemoveNodes(t *testing.T) {
	topo := core.New()
	a := topo.AddNode(0, 0, 0, nil)
	b := topo.AddNode(1, 0, 0, nil)

	var stepped []int64
	c := NewClock(topo, WithStepper(core.StepFunc(func(_ context.Context, n *core.Node, _ core.StepTime) {
		stepped = append(stepped, n.ID())
		if n == a {
			topo.RemoveNode(b)
		}
	})))
	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(stepped) != 1 || stepped[0] != a.ID() {
		t.Fatalf("stepped = %v, want only node %d", stepped, a.ID())
	}
}

func TestRunningClockTicksUntilStopped(t *testing.T) {
	topo := core.New()
	var ticks atomic.Int64
	topo.Subscribe(func(ev core.Event) {
		if ev.Kind == core.EventTick {
			ticks.Add(1)
		}
	})

	c := NewClock(topo)
	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "three ticks", func() bool { return ticks.Load() >= 3 })
	waitDone(t, c.Stop())

	stoppedAt := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != stoppedAt {
		t.Fatalf("ticks continued after Stop: %d -> %d", stoppedAt, ticks.Load())
	}
	if uint64(stoppedAt) != c.Tick() {
		t.Fatalf("tick events %d != Tick() %d", stoppedAt, c.Tick())
	}
}

func TestPauseHaltsTicks(t *testing.T) {
	c := NewClock(core.New())
	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", func() bool { return c.Tick() >= 1 })

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Let a tick that was already in flight finish.
	time.Sleep(10 * time.Millisecond)
	paused := c.Tick()
	time.Sleep(20 * time.Millisecond)
	if c.Tick() != paused {
		t.Fatalf("clock ticked while paused: %d -> %d", paused, c.Tick())
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "tick after resume", func() bool { return c.Tick() > paused })
	waitDone(t, c.Stop())
}

// TestNoTickBeginsAfterPause parks the scheduling goroutine just past
// its pause check, behind a manual Step, and pauses the clock before
// releasing it. The parked tick must not run.
func TestNoTickBeginsAfterPause(t *testing.T) {
	topo := core.New()
	topo.AddNode(0, 0, 0, nil)

	var c *Clock
	var armed atomic.Bool
	var steps atomic.Int64
	stepper := core.StepFunc(func(context.Context, *core.Node, core.StepTime) {
		if !armed.Load() || steps.Add(1) != 1 {
			return
		}
		if err := c.Resume(); err != nil {
			t.Errorf("Resume: %v", err)
			return
		}
		// Long enough for the loop to wake and block behind this tick.
		time.Sleep(30 * time.Millisecond)
		if err := c.Pause(); err != nil {
			t.Errorf("Pause: %v", err)
		}
	})
	c = NewClock(topo, WithStepper(stepper))
	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Let a tick that was already in flight finish.
	time.Sleep(10 * time.Millisecond)
	base := c.Tick()
	armed.Store(true)

	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if got := steps.Load(); got != 1 {
		t.Fatalf("stepper ran %d times, want only the manual step", got)
	}
	if c.Tick() != base+1 {
		t.Fatalf("Tick() = %d, want %d", c.Tick(), base+1)
	}
	if c.State() != Paused {
		t.Fatalf("state = %v, want paused", c.State())
	}
	waitDone(t, c.Stop())
}

// TestStopCompletesInFlightTick stops the clock while a slow stepper is
// running and checks that the tick still recomputed and emitted.
func TestStopCompletesInFlightTick(t *testing.T) {
	topo := core.New()
	topo.AddNode(0, 0, 0, nil)

	var steps, recomputeSeen, tickEvents atomic.Int64
	inStep := make(chan struct{}, 1)
	stepper := core.StepFunc(func(context.Context, *core.Node, core.StepTime) {
		steps.Add(1)
		select {
		case inStep <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
	})
	topo.Subscribe(func(ev core.Event) {
		if ev.Kind == core.EventTick {
			tickEvents.Add(1)
		}
	})

	m := &fakeMetrics{}
	c := NewClock(topo, WithStepper(stepper), WithMetrics(m))
	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-inStep
	waitDone(t, c.Stop())

	m.mu.Lock()
	recomputeSeen.Store(int64(m.ticks))
	m.mu.Unlock()

	if steps.Load() != tickEvents.Load() || steps.Load() != recomputeSeen.Load() {
		t.Fatalf("partial tick: %d steps, %d completed ticks, %d tick events",
			steps.Load(), recomputeSeen.Load(), tickEvents.Load())
	}
	if uint64(steps.Load()) != c.Tick() {
		t.Fatalf("Tick() = %d, want %d", c.Tick(), steps.Load())
	}
}

func TestStopFromTickListener(t *testing.T) {
	topo := core.New()
	c := NewClock(topo)

	stopped := make(chan (<-chan struct{}), 1)
	topo.AddListener(&core.ListenerFuncs{Tick: func(tick uint64) {
		if tick == 2 {
			stopped <- c.Stop()
		}
	}})

	if err := c.Start(time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var done <-chan struct{}
	select {
	case done = <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never stopped the clock")
	}
	waitDone(t, done)
	if c.Tick() != 2 {
		t.Fatalf("Tick() = %d, want 2", c.Tick())
	}
}

// TestOverrunDoesNotBurst checks that after a slow tick the clock runs
// the next one straight away and then returns to its normal pace
// instead of replaying the missed periods.
func TestOverrunDoesNotBurst(t *testing.T) {
	const period = 20 * time.Millisecond

	topo := core.New()
	topo.AddNode(0, 0, 0, nil)

	var mu sync.Mutex
	var starts []time.Time
	stepper := core.StepFunc(func(_ context.Context, _ *core.Node, st core.StepTime) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		if st.Tick == 1 {
			time.Sleep(4 * period)
		}
	})

	c := NewClock(topo, WithStepper(stepper))
	if err := c.Start(period); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "three ticks", func() bool { return c.Tick() >= 3 })
	waitDone(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	if gap := starts[2].Sub(starts[1]); gap < period/2 {
		t.Fatalf("tick 3 started %s after tick 2; missed periods were replayed", gap)
	}
}

func TestTickSpansAreRecorded(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c := NewClock(core.New(), WithTracerProvider(tp), WithRunID("run-1"))
	if c.RunID() != "run-1" {
		t.Fatalf("RunID() = %q", c.RunID())
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "clock.tick" {
			t.Fatalf("span name = %q", s.Name())
		}
	}
}
