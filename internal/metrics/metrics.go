package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tayacoins"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Purchases *prometheus.CounterVec
	Outbox    *prometheus.CounterVec
}

// NewServerMetrics creates the collectors and registers them on reg.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "purchases_total",
		Help:      "Purchases and checkouts by outcome.",
	}, []string{"operation", "outcome"})
	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events relayed to the broker by result.",
	}, []string{"topic", "result"})

	reg.MustRegister(requests, latency, purchases, outbox)
	return &ServerMetrics{Requests: requests, LatencyMS: latency, Purchases: purchases, Outbox: outbox}
}

// Purchase counts one engine call; outcome is "ok" or the refusal kind.
func (m *ServerMetrics) Purchase(operation, outcome string) {
	m.Purchases.WithLabelValues(operation, outcome).Inc()
}

func (m *ServerMetrics) Published(topic string) {
	m.Outbox.WithLabelValues(topic, "published").Inc()
}

func (m *ServerMetrics) Failed(topic string) {
	m.Outbox.WithLabelValues(topic, "failed").Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
