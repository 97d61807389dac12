package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus instruments for the scoring server. All
// instruments register against a private registry so the /metrics endpoint
// never exposes collectors from other packages.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	rejectedInputs *prometheus.CounterVec
	batchSize      prometheus.Histogram
	scoreDuration  prometheus.Histogram

	artifactStale *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics builds and registers every scoring instrument.
func NewMetrics() *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimscore_decisions_total",
				Help: "Total number of claim decisions by outcome",
			},
			[]string{"decision"},
		),

		rejectedInputs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimscore_rejected_inputs_total",
				Help: "Total number of requests refused before or during scoring",
			},
			[]string{"kind"},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "claimscore_predict_batch_size",
				Help:    "Rows per scored batch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		scoreDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "claimscore_predict_duration_seconds",
				Help:    "Batch scoring latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		artifactStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "claimscore_artifact_stale",
				Help: "Whether an artifact file changed on disk after load (1=stale, 0=current)",
			},
			[]string{"file"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimscore_http_requests_total",
				Help: "Count of handled HTTP requests by route and status",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claimscore_http_request_duration_seconds",
				Help:    "Wall time spent handling a request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.decisionsTotal,
		m.rejectedInputs,
		m.batchSize,
		m.scoreDuration,
		m.artifactStale,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// RecordPrediction records the outcome counts and latency of one scored batch.
func (m *Metrics) RecordPrediction(approved, denied int, duration time.Duration) {
	if approved > 0 {
		m.decisionsTotal.WithLabelValues("approved").Add(float64(approved))
	}
	if denied > 0 {
		m.decisionsTotal.WithLabelValues("denied").Add(float64(denied))
	}
	m.batchSize.Observe(float64(approved + denied))
	m.scoreDuration.Observe(duration.Seconds())
}

// RecordRejectedInput counts a request the scorer refused.
func (m *Metrics) RecordRejectedInput(kind string) {
	m.rejectedInputs.WithLabelValues(kind).Inc()
}

// SetArtifactStale updates the staleness gauge for one artifact file.
func (m *Metrics) SetArtifactStale(file string, stale bool) {
	value := 0.0
	if stale {
		value = 1.0
	}
	m.artifactStale.WithLabelValues(file).Set(value)
}

// Handler serves the private registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler so every response is counted and
// timed under its route label.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeLabel(r.URL.Path)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status and size for metrics and
// access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(p []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += n
	return n, err
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// knownRoutes keeps the endpoint label low-cardinality: anything outside the
// served surface collapses into "unknown".
var knownRoutes = map[string]string{
	"/":         "root",
	"/health":   "health",
	"/metadata": "metadata",
	"/predict":  "predict",
	"/web":      "web",
	"/metrics":  "metrics",
}

func routeLabel(path string) string {
	if name, ok := knownRoutes[path]; ok {
		return name
	}
	return "unknown"
}
