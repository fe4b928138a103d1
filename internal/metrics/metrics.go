// Package metrics exports gateway events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
)

const namespace = "fedgateway"

// Metrics holds the gateway collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec   // service, outcome: changed, unchanged, error
	serviceUp     *prometheus.GaugeVec     // service
	compositions  *prometheus.CounterVec   // outcome: success, failure
	composeTime   prometheus.Histogram     //
	fetches       *prometheus.HistogramVec // service, outcome: success, failure
	operations    *prometheus.HistogramVec // type, outcome: ok, error
	httpResponses *prometheus.CounterVec   // code
}

// New creates and registers the gateway metrics in a fresh registry, next
// to the Go runtime and process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "polls_total",
			Help:      "SDL polls of downstream services by outcome",
		}, []string{"service", "outcome"}),
		serviceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "service_up",
			Help:      "Whether the last SDL poll of a service succeeded",
		}, []string{"service"}),
		compositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "compositions_total",
			Help:      "Schema recompositions by outcome",
		}, []string{"outcome"}),
		composeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "composition_duration_seconds",
			Help:      "Schema recomposition duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "fetch_duration_seconds",
			Help:      "Downstream service request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operation_duration_seconds",
			Help:      "GraphQL operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by status code",
		}, []string{"code"}),
	}
	for _, c := range []prometheus.Collector{
		m.polls, m.serviceUp, m.compositions, m.composeTime, m.fetches, m.operations, m.httpResponses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry holding the gateway collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// Subscribe records gateway events published on the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubscribes := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.ServicePolled) {
			outcome := "unchanged"
			switch {
			case e.Err != nil:
				outcome = "error"
			case e.Changed:
				outcome = "changed"
			}
			m.polls.WithLabelValues(e.Service, outcome).Inc()
			up := 1.0
			if e.Err != nil {
				up = 0
			}
			m.serviceUp.WithLabelValues(e.Service).Set(up)
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SchemaComposed) {
			m.compositions.WithLabelValues(outcome(e.Err)).Inc()
			m.composeTime.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SubgraphFetchFinish) {
			m.fetches.WithLabelValues(e.Service, outcome(e.Err)).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			o := "ok"
			if len(e.Errors) > 0 {
				o = "error"
			}
			m.operations.WithLabelValues(e.OperationType, o).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			m.httpResponses.WithLabelValues(strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubscribes {
			u()
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
