package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/events"
)

// Collector turns bus events into Prometheus metrics. Each collector has
// its own registry so tests and multiple clients do not collide.
type Collector struct {
	registry *prometheus.Registry

	TransportRequests  *prometheus.CounterVec
	TransportDuration  *prometheus.HistogramVec
	Executions         *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	DisposedRecords    prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "GraphQL HTTP requests by status code",
		}, []string{"operation", "status"}),
		TransportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "GraphQL HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "environment",
			Name:      "executions_total",
			Help:      "Executions by result source (network, store, deduplicated, error)",
		}, []string{"operation_type", "source"}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"to"}),
		DisposedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "environment",
			Name:      "disposed_records_total",
			Help:      "Records discarded with disposed environments",
		}),
	}
	c.registry.MustRegister(c.TransportRequests, c.TransportDuration, c.Executions, c.SessionTransitions, c.DisposedRecords)
	return c
}

// Attach subscribes the collector to b.
func (c *Collector) Attach(b *eventbus.Bus) (detach func()) {
	unsubs := []func(){
		eventbus.Subscribe(b, func(_ context.Context, e events.TransportFinish) {
			status := "error"
			if e.Status != 0 {
				status = strconv.Itoa(e.Status)
			}
			c.TransportRequests.WithLabelValues(e.OperationName, status).Inc()
			c.TransportDuration.WithLabelValues(e.OperationName).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(b, func(_ context.Context, e events.ExecuteFinish) {
			source := string(e.Source)
			if e.Err != nil {
				source = "error"
			}
			c.Executions.WithLabelValues(e.OperationType, source).Inc()
		}),
		eventbus.Subscribe(b, func(_ context.Context, e events.SessionTransition) {
			c.SessionTransitions.WithLabelValues(e.To).Inc()
		}),
		eventbus.Subscribe(b, func(_ context.Context, e events.EnvironmentDisposed) {
			c.DisposedRecords.Add(float64(e.Records))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
