package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header name for request correlation
const RequestIDHeader = "X-Request-ID"

// contextKey keeps request-scoped values from colliding with other packages.
type contextKey string

// requestIDContextKey is the context key for storing the request ID
const requestIDContextKey contextKey = "requestID"

// RequestIDMiddleware assigns each request a correlation ID, honoring an
// inbound X-Request-ID header when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestIDFromContext extracts the request ID from the request context
func GetRequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDContextKey).(string)
	return requestID, ok
}

// AccessLogMiddleware logs every completed request through the structured logger
func AccessLogMiddleware(access *StructuredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			requestID, _ := GetRequestIDFromContext(r.Context())
			access.LogHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start), rec.bytes, requestID)
		})
	}
}
