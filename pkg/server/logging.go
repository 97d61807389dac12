package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// StructuredLogger provides enhanced logging capabilities for the server
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger wraps the given base logger, falling back to the
// process default when nil.
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{logger: logger}
}

// LogHTTPRequest emits one access log line per completed request.
func (sl *StructuredLogger) LogHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, bytes int, requestID string) {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
		slog.Int("bytes", bytes),
	}

	if requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}

	// Correlate with the active span when one exists.
	if traceID := getTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID := getSpanID(ctx); spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}

	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	sl.logger.LogAttrs(ctx, level, "HTTP request", attrs...)
}

// LogRejectedInput logs a refused scoring request with its rejection kind
func (sl *StructuredLogger) LogRejectedInput(ctx context.Context, kind, reason string) {
	attrs := []slog.Attr{
		slog.String("kind", kind),
		slog.String("reason", reason),
	}

	if traceID := getTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}

	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Prediction request rejected", attrs...)
}

func getTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

func getSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
