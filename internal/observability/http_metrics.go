package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPCollector counts and times inspection API requests.
type HTTPCollector struct {
	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
}

// NewHTTPCollector registers HTTP request metrics against reg.
func NewHTTPCollector(reg prometheus.Registerer) (*HTTPCollector, error) {
	reg, _ = resolveRegistry(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled inspection API requests, labeled by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Inspection API latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &HTTPCollector{Requests: requests, Durations: durations}, nil
}

// ObserveRequest records one handled request. Route should be the
// router pattern rather than the raw path to keep cardinality bounded.
func (c *HTTPCollector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.Durations.WithLabelValues(method, route).Observe(d.Seconds())
}
