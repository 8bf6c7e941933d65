package ocssd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer by exporting broker activity as
// Prometheus collectors, alongside (not instead of) the atomic-counter
// Metrics. Register it on a prometheus.Registerer of the caller's choosing;
// package ocssd itself never starts an HTTP server for /metrics
// (cmd/ocssd-brokerd does, when --metrics-addr is set).
type PrometheusObserver struct {
	ops        *prometheus.CounterVec
	errors     *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewPrometheusObserver creates and registers the broker's Prometheus
// collectors under the given namespace (e.g. "ocssd_broker").
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests processed, by operation.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Total failed requests, by operation.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes transferred, by direction.",
		}, []string{"direction"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Request latency in seconds, by operation.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"op"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_queue_depth",
			Help:      "Current reactor-to-worker handoff queue depth.",
		}),
	}

	reg.MustRegister(o.ops, o.errors, o.bytes, o.latency, o.queueDepth)
	return o
}

func (o *PrometheusObserver) observe(op string, latencyNs uint64, success bool) {
	o.ops.WithLabelValues(op).Inc()
	if !success {
		o.errors.WithLabelValues(op).Inc()
	}
	o.latency.WithLabelValues(op).Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveAlloc(latencyNs uint64, success bool) {
	o.observe("alloc", latencyNs, success)
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.observe("read", latencyNs, success)
	if success {
		o.bytes.WithLabelValues("read").Add(float64(bytes))
	}
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.observe("write", latencyNs, success)
	if success {
		o.bytes.WithLabelValues("write").Add(float64(bytes))
	}
}

func (o *PrometheusObserver) ObserveErase(latencyNs uint64, success bool) {
	o.observe("erase", latencyNs, success)
}

func (o *PrometheusObserver) ObserveReadyQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

var _ Observer = (*PrometheusObserver)(nil)
