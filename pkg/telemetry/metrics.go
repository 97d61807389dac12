package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	decisionCounter      metric.Int64Counter
	rejectedInputCounter metric.Int64Counter
	batchSizeHistogram   metric.Int64Histogram
	scoreLatencyHist     metric.Float64Histogram
)

// Reject kinds recorded against the rejected input counter.
const (
	RejectInvalidInput = "invalid_input"
	RejectInference    = "inference"
)

// BatchMetrics captures the fields needed to record scored batch telemetry.
type BatchMetrics struct {
	PipelineFormat      string
	BatchSize           int
	Approved            int
	Denied              int
	Threshold           float64
	ThresholdOverridden bool
	Duration            time.Duration
}

// RecordBatchMetrics emits counters and histograms that describe scoring behaviour.
func RecordBatchMetrics(ctx context.Context, batch BatchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.format", batch.PipelineFormat),
		attribute.Bool("threshold.overridden", batch.ThresholdOverridden),
	}

	batchSizeHistogram.Record(ctx, int64(batch.BatchSize), metric.WithAttributes(attrs...))

	if batch.Duration > 0 {
		scoreLatencyHist.Record(ctx, float64(batch.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if batch.Approved > 0 {
		decisionCounter.Add(ctx, int64(batch.Approved),
			metric.WithAttributes(append(attrs, attribute.String("decision", "approved"))...))
	}
	if batch.Denied > 0 {
		decisionCounter.Add(ctx, int64(batch.Denied),
			metric.WithAttributes(append(attrs, attribute.String("decision", "denied"))...))
	}
}

// RecordRejectedInput counts a request the scorer refused, partitioned by kind.
func RecordRejectedInput(ctx context.Context, kind string) {
	if err := ensureMetrics(); err != nil {
		return
	}

	rejectedInputCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reject.kind", kind),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("claimscore.predict")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"claimscore.decisions_total",
			metric.WithDescription("Claim decisions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectedInputCounter, metricsInitErr = meter.Int64Counter(
			"claimscore.rejected_inputs_total",
			metric.WithDescription("Requests refused before or during scoring"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		batchSizeHistogram, metricsInitErr = meter.Int64Histogram(
			"claimscore.batch_size",
			metric.WithDescription("Rows per scored batch"),
			metric.WithUnit("{row}"),
		)
		if metricsInitErr != nil {
			return
		}

		scoreLatencyHist, metricsInitErr = meter.Float64Histogram(
			"claimscore.score.duration_ms",
			metric.WithDescription("Observed batch scoring latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
