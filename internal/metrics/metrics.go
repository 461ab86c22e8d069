package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of the delivery layer. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	Joins             prometheus.Counter
	Published         prometheus.Counter
	Delivered         prometheus.Counter
	Dropped           *prometheus.CounterVec
	Writes            *prometheus.CounterVec
	PersistDuration   prometheus.Histogram
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of authenticated push connections currently registered",
		}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_joins_total",
			Help:      "Total number of accepted conversation joins",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages fanned out to a conversation channel",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of per-connection deliveries enqueued",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Total number of per-connection deliveries that could not be enqueued",
		}, []string{"reason"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_writes_total",
			Help:      "Total number of message writes by outcome",
		}, []string{"outcome"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_persist_duration_seconds",
			Help:      "Time spent persisting a message",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		c.ActiveConnections,
		c.Joins,
		c.Published,
		c.Delivered,
		c.Dropped,
		c.Writes,
		c.PersistDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.ActiveConnections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.ActiveConnections.Dec()
	}
}

func (c *Collector) Joined() {
	if c != nil {
		c.Joins.Inc()
	}
}

func (c *Collector) Fanout(delivered int) {
	if c != nil {
		c.Published.Inc()
		c.Delivered.Add(float64(delivered))
	}
}

func (c *Collector) Drop(reason string) {
	if c != nil {
		c.Dropped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) Write(outcome string) {
	if c != nil {
		c.Writes.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) ObservePersist(d time.Duration) {
	if c != nil {
		c.PersistDuration.Observe(d.Seconds())
	}
}
