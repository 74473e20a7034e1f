package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Execution outcomes used as a metric dimension.
const (
	OutcomeAllowed     = "allowed"
	OutcomeTransformed = "transformed"
	OutcomeStopped     = "stopped"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	policyExecutionCounter   metric.Int64Counter
	policyTransformCounter   metric.Int64Counter
	policyUnavailableCounter metric.Int64Counter
	policyLatencyHistogram   metric.Float64Histogram
)

// PolicyMetrics captures the fields needed to record one policy execution.
type PolicyMetrics struct {
	Policy          string
	Action          domain.ActionTaken
	ContentType     string
	Language        string
	Outcome         string
	Duration        time.Duration
	Transformations int
}

// Recorder receives one PolicyMetrics per policy execution.
type Recorder interface {
	RecordPolicy(ctx context.Context, m PolicyMetrics)
}

// OTelRecorder records through the global OpenTelemetry MeterProvider.
type OTelRecorder struct{}

// RecordPolicy implements Recorder.
func (OTelRecorder) RecordPolicy(ctx context.Context, m PolicyMetrics) {
	RecordPolicyMetrics(ctx, m)
}

// Recorders fans one execution out to several recorders.
type Recorders []Recorder

// RecordPolicy implements Recorder.
func (rs Recorders) RecordPolicy(ctx context.Context, m PolicyMetrics) {
	for _, r := range rs {
		if r != nil {
			r.RecordPolicy(ctx, m)
		}
	}
}

// OutcomeOf classifies an execution for metrics.
func OutcomeOf(action domain.ActionTaken, err error) string {
	switch {
	case err == nil && action.Transforms():
		return OutcomeTransformed
	case err == nil:
		return OutcomeAllowed
	case domain.IsUnavailable(err):
		return OutcomeUnavailable
	case action.Stops():
		return OutcomeStopped
	default:
		return OutcomeError
	}
}

// RecordPolicyMetrics emits counters and histograms that describe policy execution behaviour.
func RecordPolicyMetrics(ctx context.Context, m PolicyMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("policy.name", m.Policy),
		attribute.String("policy.outcome", m.Outcome),
	}
	if m.Action != "" {
		attrs = append(attrs, attribute.String("policy.action", string(m.Action)))
	}
	if m.ContentType != "" {
		attrs = append(attrs, attribute.String("policy.content_type", m.ContentType))
	}
	if m.Language != "" {
		attrs = append(attrs, attribute.String("policy.language", m.Language))
	}

	policyExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		policyLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Transformations > 0 {
		policyTransformCounter.Add(ctx, int64(m.Transformations), metric.WithAttributes(attrs...))
	}

	if m.Outcome == OutcomeUnavailable {
		policyUnavailableCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("safety.policy")

		policyExecutionCounter, metricsInitErr = meter.Int64Counter(
			"safety.policy.executions_total",
			metric.WithDescription("Policy executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyTransformCounter, metricsInitErr = meter.Int64Counter(
			"safety.policy.transformations_total",
			metric.WithDescription("Transformation map entries written by policies"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyUnavailableCounter, metricsInitErr = meter.Int64Counter(
			"safety.policy.detection_unavailable_total",
			metric.WithDescription("Executions failed because a detection capability was unavailable"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"safety.policy.duration_ms",
			metric.WithDescription("Observed policy execution latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
