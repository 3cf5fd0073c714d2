package metrics

import (
	"strconv"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements orders.Observer and records HTTP traffic.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	placements     *prometheus.CounterVec
	placeDuration  prometheus.Histogram
	placeAttempts  prometheus.Histogram
	attemptRetries *prometheus.CounterVec
}

var _ orders.Observer = (*Metrics)(nil)

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_order_placements_total",
			Help: "Order placements by outcome",
		}, []string{"outcome"}),
		placeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_order_placement_duration_seconds",
			Help:    "Duration of order placement including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		placeAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_order_placement_attempts",
			Help:    "Transaction attempts used per placement",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		attemptRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_order_attempt_retries_total",
			Help: "Placement attempts retried, by cause",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.placements, m.placeDuration, m.placeAttempts, m.attemptRetries)
	return m
}

func (m *Metrics) OrderPlaced(kind orders.ErrorKind, attempts int, elapsed time.Duration) {
	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	m.placements.WithLabelValues(outcome).Inc()
	m.placeDuration.Observe(elapsed.Seconds())
	if attempts > 0 {
		m.placeAttempts.Observe(float64(attempts))
	}
}

func (m *Metrics) AttemptRetried(kind orders.ErrorKind) {
	m.attemptRetries.WithLabelValues(string(kind)).Inc()
}

// ObserveHTTP records one finished request. route should be the pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}
