package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scalarorg/kakarot-relayer/pkg/events"
)

const namespace = "kakarot_relayer"

// Metrics turns relay lifecycle events into Prometheus series.
type Metrics struct {
	registry           *prometheus.Registry
	events             *prometheus.CounterVec
	confirmedRetries   prometheus.Histogram
	lastConfirmedBlock prometheus.Gauge

	mu        sync.Mutex
	lastBlock uint64
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Relay lifecycle events by type.",
		}, []string{"type"}),
		confirmedRetries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmed_retries",
			Help:      "Retry count of transactions at confirmation.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		lastConfirmedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_confirmed_block",
			Help:      "Highest Starknet block in which a relayed transaction was confirmed.",
		}),
	}
	registry.MustRegister(
		m.events,
		m.confirmedRetries,
		m.lastConfirmedBlock,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Observe(event *events.EventEnvelope) {
	m.events.WithLabelValues(event.EventType).Inc()
	if event.EventType == events.EVENT_RELAY_CONFIRMED {
		m.confirmedRetries.Observe(float64(event.Retries))
		m.mu.Lock()
		if event.BlockNumber > m.lastBlock {
			m.lastBlock = event.BlockNumber
			m.lastConfirmedBlock.Set(float64(event.BlockNumber))
		}
		m.mu.Unlock()
	}
}

// Run consumes the subscription until it is closed or ctx is done.
func (m *Metrics) Run(ctx context.Context, subscription <-chan *events.EventEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription:
			if !ok {
				return
			}
			m.Observe(event)
		}
	}
}
