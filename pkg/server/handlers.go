package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/approvia/claimscore/pkg/predict"
	"github.com/approvia/claimscore/pkg/telemetry"
)

// healthResponse mirrors the health endpoint contract.
type healthResponse struct {
	Status           string  `json:"status"`
	ArtifactsDir     string  `json:"artifacts_dir"`
	PipelineLoaded   bool    `json:"pipeline_loaded"`
	PipelineFormat   string  `json:"pipeline_format"`
	FeaturesExpected int     `json:"features_expected"`
	Threshold        float64 `json:"threshold"`
	ClipStatsLoaded  bool    `json:"clip_stats_loaded"`
}

// predictResponse is the success envelope for the predict endpoint.
type predictResponse struct {
	OK          bool                 `json:"ok"`
	N           int                  `json:"n"`
	Predictions []predict.Prediction `json:"predictions"`
}

// errorResponse is the failure envelope shared by all endpoints.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// handleHealth reports readiness and the shape of the loaded pipeline.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ArtifactsDir:     s.store.Dir(),
		PipelineLoaded:   s.store.Pipeline() != nil,
		PipelineFormat:   s.store.Pipeline().Format(),
		FeaturesExpected: len(s.store.BaseFeatures()),
		Threshold:        s.store.Threshold(),
		ClipStatsLoaded:  s.store.ClipStatsLoaded(),
	})
}

// handleMetadata handles GET /metadata requests
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Metadata())
}

// handlePredict handles POST /predict requests. The body is either a single
// JSON object or an array of objects; ?threshold= overrides the stored
// decision threshold for this request only.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	override, err := thresholdOverride(r)
	if err != nil {
		s.rejectPredict(w, r, telemetry.RejectInvalidInput, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes())
	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.rejectPredict(w, r, telemetry.RejectInvalidInput, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}

	start := time.Now()
	predictions, err := s.predictor.Predict(ctx, payload, override)
	if err != nil {
		kind := telemetry.RejectInvalidInput
		if predict.IsInference(err) {
			kind = telemetry.RejectInference
		}
		s.rejectPredict(w, r, kind, err)
		return
	}
	duration := time.Since(start)

	approved := 0
	for _, p := range predictions {
		approved += p.Decision
	}
	denied := len(predictions) - approved

	threshold := s.predictor.Threshold()
	if override != nil {
		threshold = *override
	}

	batch := telemetry.BatchMetrics{
		PipelineFormat:      s.store.Pipeline().Format(),
		BatchSize:           len(predictions),
		Approved:            approved,
		Denied:              denied,
		Threshold:           threshold,
		ThresholdOverridden: override != nil,
		Duration:            duration,
	}
	telemetry.RecordBatchMetrics(ctx, batch)
	telemetry.RecordBatchOutcome(trace.SpanFromContext(ctx), batch)
	s.metrics.RecordPrediction(approved, denied, duration)

	s.logger.Debug("Scored batch",
		"n", len(predictions),
		"threshold", threshold,
		"duration", duration,
	)

	s.writeJSON(w, http.StatusOK, predictResponse{
		OK:          true,
		N:           len(predictions),
		Predictions: predictions,
	})
}

// rejectPredict records a refused prediction request and writes the error envelope
func (s *Server) rejectPredict(w http.ResponseWriter, r *http.Request, kind string, err error) {
	ctx := r.Context()

	s.metrics.RecordRejectedInput(kind)
	telemetry.RecordRejectedInput(ctx, kind)
	telemetry.RecordInputRejected(trace.SpanFromContext(ctx), kind)
	s.access.LogRejectedInput(ctx, kind, err.Error())

	s.writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Error: err.Error()})
}

// thresholdOverride parses the optional ?threshold= query parameter.
func thresholdOverride(r *http.Request) (*float64, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return nil, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("threshold %q is not a finite number", raw)
	}
	return &value, nil
}

// handleRoot redirects the bare root to the browser form
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/web", http.StatusFound)
}
