package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leengari/burpdb/internal/engine"
)

// Collector turns table lifecycle events into Prometheus series.
// It implements engine.Observer.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	records    *prometheus.GaugeVec
	requests   *prometheus.HistogramVec
}

// New creates a collector with its own registry so several can coexist in one process
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burpdb_operations_total",
				Help: "Total number of table operations by type",
			},
			[]string{"operation"},
		),
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "burpdb_table_records",
				Help: "Records held in memory per table",
			},
			[]string{"database", "table"},
		),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burpdb_request_duration_seconds",
				Help:    "Histogram of request durations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	c.registry.MustRegister(c.operations, c.records, c.requests)
	return c
}

// OnEvent implements engine.Observer
func (c *Collector) OnEvent(event engine.Event) {
	c.operations.WithLabelValues(string(event.Type)).Inc()

	if event.Type == engine.EventTableDropped {
		c.records.DeleteLabelValues(event.Database, event.Table)
		return
	}
	c.records.WithLabelValues(event.Database, event.Table).Set(float64(event.Records))
}

// ObserveRequest records how long a transport request took
func (c *Collector) ObserveRequest(route string, seconds float64) {
	c.requests.WithLabelValues(route).Observe(seconds)
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
