package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/approvia/claimscore/pkg/feature"
)

// FormatCalibratedLinear names the native JSON pipeline export.
const FormatCalibratedLinear = "calibrated_linear"

const calibratedLinearVersion = 1

// Feature kinds understood by the calibrated-linear format.
const (
	kindNumeric     = "numeric"
	kindCategorical = "categorical"
	kindText        = "text"
)

// wordPattern mirrors the training-time tokenizer: runs of two or more word
// characters, case-folded.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// linearModel is the on-disk shape of the calibrated-linear export.
type linearModel struct {
	Format       string        `json:"format"`
	Version      int           `json:"version"`
	Features     []featureSpec `json:"features"`
	Coefficients []float64     `json:"coefficients"`
	Intercept    float64       `json:"intercept"`
	Calibration  *calibration  `json:"calibration,omitempty"`
}

// featureSpec declares how one base feature expands into model columns:
// numeric features impute the training median and standardize, categorical
// features one-hot over an explicit vocabulary (unknown tokens contribute
// nothing), text features apply tf-idf with an explicit term index.
type featureSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	Median float64 `json:"median,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Scale  float64 `json:"scale,omitempty"`

	Vocabulary []string `json:"vocabulary,omitempty"`

	Terms map[string]int `json:"terms,omitempty"`
	IDF   []float64      `json:"idf,omitempty"`
}

// calibration maps the raw decision value onto a probability. The sigmoid
// variant applies Platt scaling p = 1/(1+exp(a*z+b)); "none" leaves the
// plain logistic transform.
type calibration struct {
	Type string  `json:"type"`
	A    float64 `json:"a"`
	B    float64 `json:"b"`
}

// column is the compiled form of one featureSpec, bound to its frame index
// and its slice of the coefficient vector.
type column struct {
	frameIdx int
	kind     string
	coefOff  int

	median float64
	mean   float64
	scale  float64

	vocab map[string]int

	terms map[string]int
	idf   []float64
}

// CalibratedLinear runs the native JSON pipeline export: per-feature
// preprocessing, a linear decision function, and sigmoid calibration.
type CalibratedLinear struct {
	columns    []column
	coefs      []float64
	intercept  float64
	calib      *calibration
	frameWidth int
}

// LoadCalibratedLinear parses and validates a calibrated-linear artifact
// against the declared base features.
func LoadCalibratedLinear(path string, baseFeatures []string) (*CalibratedLinear, error) {
	// #nosec G304 -- artifact location is fixed at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline artifact: %w", err)
	}

	var m linearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelMalformed, err)
	}
	return compileLinear(&m, baseFeatures)
}

func compileLinear(m *linearModel, baseFeatures []string) (*CalibratedLinear, error) {
	if m.Format != FormatCalibratedLinear {
		return nil, fmt.Errorf("%w: format %q", ErrModelMalformed, m.Format)
	}
	if m.Version != calibratedLinearVersion {
		return nil, fmt.Errorf("%w: version %d", ErrModelMalformed, m.Version)
	}
	if len(m.Features) == 0 {
		return nil, fmt.Errorf("%w: no features", ErrModelMalformed)
	}
	if m.Calibration != nil && m.Calibration.Type != "sigmoid" && m.Calibration.Type != "none" {
		return nil, fmt.Errorf("%w: calibration type %q", ErrModelMalformed, m.Calibration.Type)
	}

	frameIdx := make(map[string]int, len(baseFeatures))
	for i, c := range baseFeatures {
		frameIdx[c] = i
	}

	p := &CalibratedLinear{
		coefs:      m.Coefficients,
		intercept:  m.Intercept,
		calib:      m.Calibration,
		frameWidth: len(baseFeatures),
	}

	offset := 0
	for _, spec := range m.Features {
		idx, ok := frameIdx[spec.Name]
		if !ok {
			return nil, fmt.Errorf("%w: feature %q not among base features", ErrModelMalformed, spec.Name)
		}

		col := column{frameIdx: idx, kind: spec.Type, coefOff: offset}
		switch spec.Type {
		case kindNumeric:
			if spec.Scale == 0 {
				return nil, fmt.Errorf("%w: feature %q has zero scale", ErrModelMalformed, spec.Name)
			}
			col.median, col.mean, col.scale = spec.Median, spec.Mean, spec.Scale
			offset++
		case kindCategorical:
			if len(spec.Vocabulary) == 0 {
				return nil, fmt.Errorf("%w: feature %q has empty vocabulary", ErrModelMalformed, spec.Name)
			}
			col.vocab = make(map[string]int, len(spec.Vocabulary))
			for i, tok := range spec.Vocabulary {
				col.vocab[tok] = i
			}
			offset += len(spec.Vocabulary)
		case kindText:
			if len(spec.IDF) == 0 {
				return nil, fmt.Errorf("%w: feature %q has no idf weights", ErrModelMalformed, spec.Name)
			}
			for term, off := range spec.Terms {
				if off < 0 || off >= len(spec.IDF) {
					return nil, fmt.Errorf("%w: feature %q term %q offset %d out of range", ErrModelMalformed, spec.Name, term, off)
				}
			}
			col.terms = spec.Terms
			col.idf = spec.IDF
			offset += len(spec.IDF)
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown type %q", ErrModelMalformed, spec.Name, spec.Type)
		}
		p.columns = append(p.columns, col)
	}

	if offset != len(m.Coefficients) {
		return nil, fmt.Errorf("%w: %d coefficients for %d model columns", ErrModelMalformed, len(m.Coefficients), offset)
	}
	return p, nil
}

// ProbabilityBatch scores every frame row through the linear model.
func (p *CalibratedLinear) ProbabilityBatch(ctx context.Context, frame *feature.Frame) ([]float64, error) {
	if frame.NumCols() != p.frameWidth {
		return nil, fmt.Errorf("%w: frame has %d columns, model expects %d", ErrFrameMismatch, frame.NumCols(), p.frameWidth)
	}

	probs := make([]float64, frame.NumRows())
	for i, row := range frame.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probs[i] = p.calibrate(p.decision(row))
	}
	return probs, nil
}

func (p *CalibratedLinear) decision(row []feature.Value) float64 {
	z := p.intercept
	for _, c := range p.columns {
		v := row[c.frameIdx]
		switch c.kind {
		case kindNumeric:
			x, ok := v.AsNumber()
			if !ok {
				x = c.median
			}
			z += p.coefs[c.coefOff] * (x - c.mean) / c.scale
		case kindCategorical:
			if pos, ok := c.vocab[v.Token()]; ok {
				z += p.coefs[c.coefOff+pos]
			}
		case kindText:
			z += c.textScore(v.Token(), p.coefs)
		}
	}
	return z
}

// textScore computes the tf-idf contribution of one text cell: term counts
// over the known vocabulary, idf weighting, l2 normalization, then the dot
// product with this column's coefficient block.
func (c column) textScore(text string, coefs []float64) float64 {
	if text == "" {
		return 0
	}

	weights := make(map[int]float64)
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if off, ok := c.terms[tok]; ok {
			weights[off]++
		}
	}
	if len(weights) == 0 {
		return 0
	}

	var norm float64
	for off, count := range weights {
		w := count * c.idf[off]
		weights[off] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)

	var z float64
	for off, w := range weights {
		z += coefs[c.coefOff+off] * (w / norm)
	}
	return z
}

func (p *CalibratedLinear) calibrate(z float64) float64 {
	if p.calib != nil && p.calib.Type == "sigmoid" {
		return 1 / (1 + math.Exp(p.calib.A*z+p.calib.B))
	}
	return 1 / (1 + math.Exp(-z))
}

// Format returns the artifact format name.
func (p *CalibratedLinear) Format() string {
	return FormatCalibratedLinear
}

// Close is a no-op for the in-process linear model.
func (p *CalibratedLinear) Close() error {
	return nil
}
