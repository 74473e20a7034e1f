package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder holds Prometheus metrics for policy executions on its own registry.
type PrometheusRecorder struct {
	executionsTotal      *prometheus.CounterVec
	executionDuration    *prometheus.HistogramVec
	transformationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusRecorder creates a recorder with all policy metrics registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	r := &PrometheusRecorder{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safety_policy_executions_total",
				Help: "Total number of policy executions by action taken and outcome",
			},
			[]string{"policy", "action", "outcome"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safety_policy_duration_seconds",
				Help:    "Policy execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		),

		transformationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safety_policy_transformations_total",
				Help: "Total number of transformation map entries written",
			},
			[]string{"policy", "action"},
		),

		registry: registry,
	}

	registry.MustRegister(
		r.executionsTotal,
		r.executionDuration,
		r.transformationsTotal,
	)

	return r
}

// RecordPolicy implements Recorder.
func (r *PrometheusRecorder) RecordPolicy(_ context.Context, m PolicyMetrics) {
	action := string(m.Action)
	if action == "" {
		action = "none"
	}
	r.executionsTotal.WithLabelValues(m.Policy, action, m.Outcome).Inc()
	r.executionDuration.WithLabelValues(m.Policy).Observe(m.Duration.Seconds())
	if m.Transformations > 0 {
		r.transformationsTotal.WithLabelValues(m.Policy, action).Add(float64(m.Transformations))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}
