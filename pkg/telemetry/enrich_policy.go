package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-safety/pkg/domain"
)

// PolicyResult is the coarse, content-free summary of one execution attached to spans.
type PolicyResult struct {
	Rule            string
	Action          domain.ActionTaken
	ContentType     string
	Language        string
	Confidence      float64
	Triggered       int
	Transformations int
	Err             error
}

// RecordPolicyResult annotates the provided span with the policy outcome.
func RecordPolicyResult(span trace.Span, result PolicyResult) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Float64("policy.rule.confidence", result.Confidence),
		attribute.Int("policy.rule.triggered.count", result.Triggered),
	}
	if result.Rule != "" {
		attrs = append(attrs, attribute.String("policy.rule.name", result.Rule))
	}
	if result.Action != "" {
		attrs = append(attrs, attribute.String("policy.decision.action", string(result.Action)))
	}
	if result.ContentType != "" {
		attrs = append(attrs, attribute.String("policy.content_type", result.ContentType))
	}
	if result.Language != "" {
		attrs = append(attrs, attribute.String("policy.language", result.Language))
	}
	if result.Action.Transforms() {
		attrs = append(attrs, attribute.Int("policy.transformations.count", result.Transformations))
	}
	span.SetAttributes(attrs...)

	if result.Err == nil {
		return
	}

	code := domain.ToErrorResponse(result.Err).Code
	span.SetAttributes(attribute.String("policy.violation_code", code))
	switch result.Action {
	case domain.ActionBlock:
		span.AddEvent("policy.blocked")
	case domain.ActionRaise:
		span.AddEvent("policy.raised")
	}
	span.SetStatus(codes.Error, code)
}
