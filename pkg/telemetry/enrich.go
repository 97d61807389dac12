package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordBatchOutcome annotates the provided span with the scored batch outcome.
func RecordBatchOutcome(span trace.Span, batch BatchMetrics) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("predict.pipeline_format", batch.PipelineFormat),
		attribute.Int("predict.batch_size", batch.BatchSize),
		attribute.Int("predict.approved", batch.Approved),
		attribute.Int("predict.denied", batch.Denied),
		attribute.Float64("predict.threshold", batch.Threshold),
	)

	if batch.ThresholdOverridden {
		span.SetAttributes(attribute.Bool("predict.threshold_overridden", true))
	}
}

// RecordInputRejected attaches a coarse-grained rejection event to the provided
// span without leaking payload data.
func RecordInputRejected(span trace.Span, kind string) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("predict.rejected", trace.WithAttributes(
		attribute.String("reject.kind", kind),
	))
}
