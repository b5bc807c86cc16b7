package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TopologyCollector bundles Prometheus metrics describing the simulated
// graph. It satisfies core.MetricsRecorder so the Topology can drive
// the gauges directly from its mutators.
type TopologyCollector struct {
	gatherer prometheus.Gatherer

	Nodes             prometheus.Gauge
	Links             *prometheus.GaugeVec
	WirelessChurn     *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
}

// NewTopologyCollector registers topology metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewTopologyCollector(reg prometheus.Registerer) (*TopologyCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	nodes, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_nodes",
		Help: "Current number of nodes attached to the topology.",
	}), "topology_nodes")
	if err != nil {
		return nil, err
	}

	links, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "topology_links",
		Help: "Current number of links in the topology, labeled by mode.",
	}, []string{"mode"}), "topology_links")
	if err != nil {
		return nil, err
	}

	churn, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topology_wireless_link_changes_total",
		Help: "Wireless links added or removed by connectivity recomputation.",
	}, []string{"change"}), "topology_wireless_link_changes_total")
	if err != nil {
		return nil, err
	}

	recompute, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "topology_recompute_duration_seconds",
		Help:    "Duration of wireless connectivity recomputation.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "topology_recompute_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &TopologyCollector{
		gatherer:          gatherer,
		Nodes:             nodes,
		Links:             links,
		WirelessChurn:     churn,
		RecomputeDuration: recompute,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TopologyCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TopologyCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// SetTopologyCounts updates the node and link gauges.
func (c *TopologyCollector) SetTopologyCounts(nodes, wiredLinks, wirelessLinks int) {
	if c == nil {
		return
	}
	if c.Nodes != nil {
		c.Nodes.Set(float64(nodes))
	}
	if c.Links != nil {
		c.Links.WithLabelValues("wired").Set(float64(wiredLinks))
		c.Links.WithLabelValues("wireless").Set(float64(wirelessLinks))
	}
}

// ObserveRecompute records one recomputation pass.
func (c *TopologyCollector) ObserveRecompute(d time.Duration, added, removed int) {
	if c == nil {
		return
	}
	if c.RecomputeDuration != nil {
		c.RecomputeDuration.Observe(d.Seconds())
	}
	if c.WirelessChurn != nil {
		c.WirelessChurn.WithLabelValues("added").Add(float64(added))
		c.WirelessChurn.WithLabelValues("removed").Add(float64(removed))
	}
}

func resolveRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds c to reg, returning the collector already registered
// under the same descriptor when there is one of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
