package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/approvia/claimscore/pkg/feature"
)

// FormatONNX names the onnxruntime-backed pipeline.
const FormatONNX = "onnx"

// probabilitiesOutput is the conventional name of the probability tensor in
// exported classifier graphs. When absent, the last model output is used.
const probabilitiesOutput = "probabilities"

var ortEnv struct {
	mu    sync.Mutex
	ready bool
}

// ensureRuntime initializes the process-wide onnxruntime environment once.
// The environment outlives individual pipelines and is never torn down.
func ensureRuntime(libraryPath string) error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()

	if ortEnv.ready || ort.IsInitialized() {
		ortEnv.ready = true
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	ortEnv.ready = true
	return nil
}

// ONNX scores frames through an exported graph with one float input of shape
// [n, len(baseFeatures)] and a probability output of shape [n,2] or [n,1].
// Cells that fail numeric coercion are fed as NaN, leaving imputation to the
// graph; feature sets with raw text or categorical base columns are not
// expressible here and ship as calibrated-linear artifacts instead.
type ONNX struct {
	session *ort.DynamicAdvancedSession
	width   int
}

// LoadONNX opens an ONNX pipeline artifact and binds it to the declared base
// feature layout.
func LoadONNX(path string, baseFeatures []string, libraryPath string) (*ONNX, error) {
	if err := ensureRuntime(libraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelMalformed, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: model declares %d inputs, want 1", ErrModelMalformed, len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model declares no outputs", ErrModelMalformed)
	}

	dims := inputs[0].Dimensions
	if len(dims) == 2 && dims[1] > 0 && int(dims[1]) != len(baseFeatures) {
		return nil, fmt.Errorf("%w: model expects %d features, metadata declares %d", ErrModelMalformed, dims[1], len(baseFeatures))
	}

	outputName := outputs[len(outputs)-1].Name
	for _, o := range outputs {
		if o.Name == probabilitiesOutput {
			outputName = o.Name
			break
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session: %w", err)
	}

	return &ONNX{session: session, width: len(baseFeatures)}, nil
}

// ProbabilityBatch runs the graph over the whole frame in one call.
func (p *ONNX) ProbabilityBatch(ctx context.Context, frame *feature.Frame) ([]float64, error) {
	if frame.NumCols() != p.width {
		return nil, fmt.Errorf("%w: frame has %d columns, model expects %d", ErrFrameMismatch, frame.NumCols(), p.width)
	}

	n := frame.NumRows()
	if n == 0 {
		return []float64{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := make([]float32, 0, n*p.width)
	for _, row := range frame.Rows {
		for _, v := range row {
			if x, ok := v.AsNumber(); ok {
				data = append(data, float32(x))
			} else {
				data = append(data, float32(math.NaN()))
			}
		}
	}

	input, err := ort.NewTensor(ort.NewShape(int64(n), int64(p.width)), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run onnx graph: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx output is %T, want a float32 tensor", outputs[0])
	}
	defer func() { _ = out.Destroy() }()

	raw := out.GetData()
	probs := make([]float64, n)
	switch len(raw) {
	case n * 2:
		// [n,2] class probabilities; approval is the positive class.
		for i := range probs {
			probs[i] = float64(raw[i*2+1])
		}
	case n:
		for i := range probs {
			probs[i] = float64(raw[i])
		}
	default:
		return nil, fmt.Errorf("onnx output has %d values for %d rows", len(raw), n)
	}
	return probs, nil
}

// Format returns the artifact format name.
func (p *ONNX) Format() string {
	return FormatONNX
}

// Close releases the onnxruntime session.
func (p *ONNX) Close() error {
	return p.session.Destroy()
}
