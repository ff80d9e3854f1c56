// Package metrics holds the prometheus collectors of the chat server.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stridechat_ws_active_connections",
		Help: "Active websocket connections",
	})
	Sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stridechat_sends_total",
		Help: "Message sends by result code",
	}, []string{"code"})
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stridechat_fanout_latency_seconds",
		Help:    "Time from commit to the end of the notification fan-out",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	FanoutDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stridechat_fanout_dropped_total",
		Help: "Committed messages not fanned out in order",
	}, []string{"reason"})
	InvariantViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stridechat_invariant_violations_total",
		Help: "Detected violations of storage invariants",
	}, []string{"invariant"})
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Repeated calls are no-ops.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Connections, Sends, FanoutLatency, FanoutDropped, InvariantViolations)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}

// SendResult counts one send outcome; code is "OK" or "DUPLICATE" on success.
func SendResult(code string) {
	Sends.WithLabelValues(code).Inc()
}
