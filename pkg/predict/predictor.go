// Package predict turns raw claim payloads into approval decisions: it runs
// the feature layer, scores the assembled frame through the pipeline in one
// batch call, and applies the decision threshold.
package predict

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/approvia/claimscore/pkg/artifact"
	"github.com/approvia/claimscore/pkg/feature"
	"github.com/approvia/claimscore/pkg/pipeline"
)

// Prediction is one scored claim. Probability and threshold are rounded to
// six decimals for display; the decision compares the unrounded values.
type Prediction struct {
	ProbaApproved float64 `json:"proba_approved"`
	Threshold     float64 `json:"threshold"`
	Decision      int     `json:"decision"`
	RowID         int     `json:"row_id"`
}

// Predictor scores claim batches against the loaded artifacts. Immutable and
// safe for concurrent use.
type Predictor struct {
	engineer  *feature.Engineer
	pipe      pipeline.Pipeline
	base      []string
	threshold float64
	logger    *slog.Logger
}

// New builds a Predictor over a loaded artifact store.
func New(store *artifact.Store, logger *slog.Logger) *Predictor {
	meta := store.Metadata()
	return NewFromParts(store.Pipeline(), meta.BaseFeatures, meta.NumCols, store.ClipStats(), store.Threshold(), logger)
}

// NewFromParts wires a Predictor from explicit components.
func NewFromParts(pipe pipeline.Pipeline, baseFeatures, numericCols []string, clip map[string]float64, threshold float64, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		engineer:  feature.NewEngineer(baseFeatures, numericCols, clip),
		pipe:      pipe,
		base:      baseFeatures,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the default decision threshold.
func (p *Predictor) Threshold() float64 {
	return p.threshold
}

// Predict scores a decoded JSON payload: a single object or an array of
// objects. A non-nil threshold overrides the artifact threshold for this call
// only. An empty array yields zero predictions without touching the pipeline.
func (p *Predictor) Predict(ctx context.Context, payload any, threshold *float64) ([]Prediction, error) {
	records, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	thr := p.threshold
	if threshold != nil {
		if math.IsNaN(*threshold) || math.IsInf(*threshold, 0) {
			return nil, &InvalidInputError{Reason: "threshold must be a finite number"}
		}
		thr = *threshold
	}

	if len(records) == 0 {
		return []Prediction{}, nil
	}

	start := time.Now()

	recs := make([]feature.Record, len(records))
	for i, raw := range records {
		recs[i] = p.engineer.Derive(p.engineer.Canonicalize(raw))
	}
	frame := feature.AssembleFrame(p.base, recs)

	probs, err := p.score(ctx, frame)
	if err != nil {
		return nil, err
	}

	preds := make([]Prediction, len(probs))
	for i, proba := range probs {
		decision := 0
		if proba >= thr {
			decision = 1
		}
		preds[i] = Prediction{
			ProbaApproved: roundTo6(proba),
			Threshold:     roundTo6(thr),
			Decision:      decision,
			RowID:         i,
		}
	}

	p.logger.LogAttrs(ctx, slog.LevelDebug, "prediction batch scored",
		slog.Int("n", len(preds)),
		slog.Float64("threshold", thr),
		slog.Duration("duration", time.Since(start)),
	)
	return preds, nil
}

// score runs the single batch pipeline call. Pipeline errors and panics both
// surface as inference failures so a bad model can never take the process
// down with a request.
func (p *Predictor) score(ctx context.Context, frame *feature.Frame) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs = nil
			err = &InferenceError{Err: fmt.Errorf("pipeline panic: %v", r)}
		}
	}()

	probs, perr := p.pipe.ProbabilityBatch(ctx, frame)
	if perr != nil {
		return nil, &InferenceError{Err: perr}
	}
	if len(probs) != frame.NumRows() {
		return nil, &InferenceError{Err: fmt.Errorf("pipeline returned %d probabilities for %d rows", len(probs), frame.NumRows())}
	}
	return probs, nil
}

// normalizePayload reduces the accepted payload shapes to a record slice.
func normalizePayload(payload any) ([]map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		records := make([]map[string]any, len(v))
		for i, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, &InvalidInputError{Reason: fmt.Sprintf("array item %d is not a JSON object", i)}
			}
			records[i] = rec
		}
		return records, nil
	default:
		return nil, &InvalidInputError{Reason: "payload must be a JSON object or an array of JSON objects"}
	}
}

func roundTo6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
