// Package pipeline loads the serialized scoring pipeline and exposes it as an
// opaque probability function over assembled feature frames. Two artifact
// formats are supported: the native calibrated-linear JSON export and an ONNX
// graph run through onnxruntime. Model internals are data, never code.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/approvia/claimscore/pkg/feature"
)

// Sentinel errors for pipeline loading and scoring.
var (
	// ErrModelMalformed indicates the pipeline artifact could not be parsed
	// or fails its internal consistency checks.
	ErrModelMalformed = errors.New("pipeline artifact malformed")

	// ErrUnsupportedFormat indicates the artifact extension maps to no loader.
	ErrUnsupportedFormat = errors.New("unsupported pipeline format")

	// ErrFrameMismatch indicates a frame whose shape does not match what the
	// model was loaded against.
	ErrFrameMismatch = errors.New("frame does not match model inputs")
)

// Pipeline scores assembled feature frames. Implementations are safe for
// concurrent use and immutable after load.
type Pipeline interface {
	// ProbabilityBatch returns the approval probability for every frame row,
	// in row order, in a single call.
	ProbabilityBatch(ctx context.Context, frame *feature.Frame) ([]float64, error)

	// Format names the artifact format backing this pipeline.
	Format() string

	// Close releases resources held by the pipeline.
	Close() error
}

// Options carries loader settings that do not live in the artifact itself.
type Options struct {
	// ONNXLibraryPath points at the onnxruntime shared library. Empty uses
	// the binding's platform default.
	ONNXLibraryPath string
}

// Load reads a pipeline artifact, dispatching on the file extension.
// baseFeatures fixes the frame layout the pipeline will be called with.
func Load(path string, baseFeatures []string, opts Options) (Pipeline, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadCalibratedLinear(path, baseFeatures)
	case ".onnx":
		return LoadONNX(path, baseFeatures, opts.ONNXLibraryPath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
