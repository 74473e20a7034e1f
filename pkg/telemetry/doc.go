// Package telemetry wires OpenTelemetry tracing and metrics, plus an optional
// Prometheus registry, for policy executions.
//
// Only coarse outcome data leaves this package: policy and action names,
// content types, confidences and counts. Inspected text, triggered keywords and
// transformation values are never attached to spans or metric labels.
package telemetry
