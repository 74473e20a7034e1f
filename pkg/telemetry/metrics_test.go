package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-safety/pkg/domain"
)

func TestRecordPolicyMetrics(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	OTelRecorder{}.RecordPolicy(ctx, PolicyMetrics{
		Policy:          "phone_anonymize",
		Action:          domain.ActionAnonymize,
		ContentType:     "PHONE_NUMBER",
		Outcome:         OutcomeTransformed,
		Duration:        150 * time.Millisecond,
		Transformations: 2,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	sumExec, ok := metrics["safety.policy.executions_total"]
	if !ok {
		t.Fatalf("missing safety.policy.executions_total metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(execData.DataPoints))
	}
	if execData.DataPoints[0].Value != 1 {
		t.Fatalf("expected executions count 1, got %d", execData.DataPoints[0].Value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("policy.action")); !ok || value.AsString() != "ANONYMIZE" {
		t.Fatalf("expected policy.action attribute to be ANONYMIZE, got %v", value)
	}

	transforms, ok := metrics["safety.policy.transformations_total"]
	if !ok {
		t.Fatalf("missing safety.policy.transformations_total metric")
	}
	transformData := transforms.Data.(metricdata.Sum[int64])
	if transformData.DataPoints[0].Value != 2 {
		t.Fatalf("expected transformation count 2, got %d", transformData.DataPoints[0].Value)
	}

	if _, ok := metrics["safety.policy.detection_unavailable_total"]; ok {
		t.Fatalf("unexpected unavailable metric for a transformed outcome")
	}

	hist, ok := metrics["safety.policy.duration_ms"]
	if !ok {
		t.Fatalf("missing safety.policy.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestOutcomeOf(t *testing.T) {
	cases := []struct {
		action domain.ActionTaken
		err    error
		want   string
	}{
		{domain.ActionAllow, nil, OutcomeAllowed},
		{domain.ActionReplace, nil, OutcomeTransformed},
		{domain.ActionBlock, domain.Disallowed("no", "CRYPTO"), OutcomeStopped},
		{domain.ActionRaise, domain.Violation("no", "CRYPTO"), OutcomeStopped},
		{"", domain.Unavailable(context.DeadlineExceeded), OutcomeUnavailable},
		{"", errors.New("boom"), OutcomeError},
	}
	for _, tc := range cases {
		if got := OutcomeOf(tc.action, tc.err); got != tc.want {
			t.Fatalf("OutcomeOf(%q, %v) = %q, want %q", tc.action, tc.err, got, tc.want)
		}
	}
}

func TestPrometheusRecorder(t *testing.T) {
	r := NewPrometheusRecorder()
	var rec Recorder = Recorders{r, nil}

	rec.RecordPolicy(context.Background(), PolicyMetrics{
		Policy: "crypto_replace", Action: domain.ActionReplace, Outcome: OutcomeTransformed,
		Duration: 10 * time.Millisecond, Transformations: 3,
	})
	rec.RecordPolicy(context.Background(), PolicyMetrics{
		Policy: "crypto_replace", Action: domain.ActionAllow, Outcome: OutcomeAllowed,
	})

	if got := testutil.ToFloat64(r.executionsTotal.WithLabelValues("crypto_replace", "REPLACE", OutcomeTransformed)); got != 1 {
		t.Fatalf("expected 1 replace execution, got %v", got)
	}
	if got := testutil.ToFloat64(r.transformationsTotal.WithLabelValues("crypto_replace", "REPLACE")); got != 3 {
		t.Fatalf("expected 3 transformations, got %v", got)
	}

	expected := `
# HELP safety_policy_executions_total Total number of policy executions by action taken and outcome
# TYPE safety_policy_executions_total counter
safety_policy_executions_total{action="ALLOW",outcome="allowed",policy="crypto_replace"} 1
safety_policy_executions_total{action="REPLACE",outcome="transformed",policy="crypto_replace"} 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "safety_policy_executions_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestRecordPolicyResult(t *testing.T) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "policy.execute")
	RecordPolicyResult(span, PolicyResult{
		Rule:        "crypto_keywords",
		Action:      domain.ActionBlock,
		ContentType: "CRYPTO",
		Confidence:  0.9,
		Triggered:   3,
		Err:         domain.Disallowed("no crypto", "CRYPTO"),
	})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	ended := spans[0]
	attrs := attribute.NewSet(ended.Attributes()...)
	if value, ok := attrs.Value(attribute.Key("policy.decision.action")); !ok || value.AsString() != "BLOCK" {
		t.Fatalf("expected decision action BLOCK, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("policy.rule.triggered.count")); !ok || value.AsInt64() != 3 {
		t.Fatalf("expected triggered count 3, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("policy.violation_code")); !ok || value.AsString() != domain.CodeDisallowedOperation {
		t.Fatalf("expected violation code, got %v", value)
	}
	if _, ok := attrs.Value(attribute.Key("policy.transformations.count")); ok {
		t.Fatalf("unexpected transformations attribute on a block outcome")
	}
	if len(ended.Events()) != 1 || ended.Events()[0].Name != "policy.blocked" {
		t.Fatalf("expected policy.blocked event, got %v", ended.Events())
	}
	if ended.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended.Status())
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestSetupProviderWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
