package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClockCollector exposes clock-specific Prometheus metrics. It
// satisfies timectrl.Metrics.
type ClockCollector struct {
	gatherer prometheus.Gatherer

	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	State        *prometheus.GaugeVec
}

var clockStates = []string{"stopped", "running", "paused"}

// NewClockCollector registers clock metrics against the provided registerer.
func NewClockCollector(reg prometheus.Registerer) (*ClockCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	ticks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clock_ticks_total",
		Help: "Cumulative number of completed simulation ticks.",
	}), "clock_ticks_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clock_tick_duration_seconds",
		Help:    "Wall-clock duration of a full tick (step, recompute, notify).",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}), "clock_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clock_state",
		Help: "1 for the clock's current state, 0 for the others.",
	}, []string{"state"}), "clock_state")
	if err != nil {
		return nil, err
	}

	c := &ClockCollector{
		gatherer:     gatherer,
		Ticks:        ticks,
		TickDuration: duration,
		State:        state,
	}
	c.SetClockState("stopped")
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ClockCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one completed tick.
func (c *ClockCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
}

// SetClockState flags state as current.
func (c *ClockCollector) SetClockState(state string) {
	if c == nil || c.State == nil {
		return
	}
	for _, s := range clockStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.State.WithLabelValues(s).Set(v)
	}
}
