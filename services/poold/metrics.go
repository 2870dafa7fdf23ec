package poold

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks gateway operation outcomes for Prometheus scraping.
type Metrics struct {
	opsTotal     *prometheus.CounterVec
	nonceReplays prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// Collect returns the process-wide gateway metrics, registering them on first
// use.
func Collect() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poold_ops_total",
				Help: "Count of pool operations by name and result.",
			}, []string{"op", "result"}),
			nonceReplays: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poold_nonce_replays_total",
				Help: "Count of borrow attempts rejected for a consumed nonce.",
			}),
			httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "poold_http_request_seconds",
				Help:    "HTTP handler latency by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			metricsInst.opsTotal,
			metricsInst.nonceReplays,
			metricsInst.httpDuration,
		)
	})
	return metricsInst
}

// ObserveOp records one operation outcome.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
}

// ObserveReplay records a rejected nonce replay.
func (m *Metrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.nonceReplays.Inc()
}

// ObserveLatency records handler latency in seconds for a route.
func (m *Metrics) ObserveLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
