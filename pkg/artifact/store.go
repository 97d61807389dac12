// Package artifact loads the model artifacts the service runs on: pipeline,
// metadata, decision threshold, and optional clip statistics. Everything is
// read once at startup and immutable afterwards; picking up new artifacts
// means restarting the process.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/approvia/claimscore/pkg/feature"
	"github.com/approvia/claimscore/pkg/pipeline"
)

// Artifact file names inside the artifacts directory.
const (
	MetadataFile     = "metadata.json"
	ThresholdFile    = "threshold.json"
	ClipStatsFile    = "clip_stats.json"
	PipelineJSONFile = "pipeline.json"
	PipelineONNXFile = "pipeline.onnx"
)

// defaultThreshold applies when threshold.json carries no threshold key.
const defaultThreshold = 0.5

// Metadata describes the feature space the pipeline was trained on.
// BaseFeatures is ordered and fixes the frame layout; the column class lists
// and library versions are informational and echoed by the metadata endpoint.
type Metadata struct {
	BaseFeatures    []string          `json:"base_features"`
	TextCols        []string          `json:"text_cols"`
	CatCols         []string          `json:"cat_cols"`
	NumCols         []string          `json:"num_cols"`
	LibraryVersions map[string]string `json:"library_versions"`
}

// ClipStats maps amount columns to the upper bounds captured at training time.
type ClipStats map[string]float64

// Options carries loader settings.
type Options struct {
	// ONNXLibraryPath locates the onnxruntime shared library for ONNX
	// pipeline artifacts.
	ONNXLibraryPath string
}

// Store holds the loaded artifacts. It is populated once by Load and never
// mutated, so it needs no locking.
type Store struct {
	dir          string
	meta         *Metadata
	threshold    float64
	clip         ClipStats
	pipe         pipeline.Pipeline
	pipelinePath string
	fingerprints map[string]string
}

// Load reads all artifacts from dir. Any missing or malformed required
// artifact fails the load; absent clip statistics are tolerated with a
// warning since older model exports never shipped them.
func Load(dir string, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{dir: dir, fingerprints: make(map[string]string)}

	meta, err := loadMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	s.meta = meta

	thr, err := loadThreshold(filepath.Join(dir, ThresholdFile))
	if err != nil {
		return nil, err
	}
	s.threshold = thr

	clip, err := loadClipStats(filepath.Join(dir, ClipStatsFile))
	if err != nil {
		return nil, err
	}
	if clip == nil {
		logger.Warn("Clip statistics not found, amount clipping disabled",
			"path", filepath.Join(dir, ClipStatsFile))
	}
	s.clip = clip

	pipePath, err := findPipelineArtifact(dir)
	if err != nil {
		return nil, err
	}
	pipe, err := pipeline.Load(pipePath, meta.BaseFeatures, pipeline.Options{
		ONNXLibraryPath: opts.ONNXLibraryPath,
	})
	if err != nil {
		return nil, &MalformedArtifactError{Path: pipePath, Err: err}
	}
	s.pipe = pipe
	s.pipelinePath = pipePath

	for _, name := range []string{MetadataFile, ThresholdFile, ClipStatsFile, filepath.Base(pipePath)} {
		path := filepath.Join(dir, name)
		sum, err := Fingerprint(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("fingerprint %s: %w", path, err)
		}
		s.fingerprints[name] = sum
	}

	logger.Info("Artifacts loaded",
		"dir", dir,
		"features_expected", len(meta.BaseFeatures),
		"threshold", thr,
		"pipeline_format", pipe.Format(),
		"clip_stats_loaded", clip != nil,
	)
	return s, nil
}

func loadMetadata(path string) (*Metadata, error) {
	data, err := readArtifact(path)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &MalformedArtifactError{Path: path, Err: err}
	}
	if len(meta.BaseFeatures) == 0 {
		return nil, &MalformedArtifactError{Path: path, Err: fmt.Errorf("no base features declared")}
	}
	seen := make(map[string]struct{}, len(meta.BaseFeatures))
	for _, c := range meta.BaseFeatures {
		if _, dup := seen[c]; dup {
			return nil, &MalformedArtifactError{Path: path, Err: fmt.Errorf("duplicate base feature %q", c)}
		}
		seen[c] = struct{}{}
	}
	return &meta, nil
}

func loadThreshold(path string) (float64, error) {
	data, err := readArtifact(path)
	if err != nil {
		return 0, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, &MalformedArtifactError{Path: path, Err: err}
	}

	raw, ok := doc["threshold"]
	if !ok {
		return defaultThreshold, nil
	}
	// Numeric strings are accepted for parity with older exports.
	thr, ok := feature.FromJSON(raw).AsNumber()
	if !ok || math.IsInf(thr, 0) {
		return 0, &MalformedArtifactError{Path: path, Err: fmt.Errorf("threshold %v is not numeric", raw)}
	}
	return thr, nil
}

func loadClipStats(path string) (ClipStats, error) {
	// #nosec G304 -- artifact location is fixed at startup
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var clip ClipStats
	if err := json.Unmarshal(data, &clip); err != nil {
		return nil, &MalformedArtifactError{Path: path, Err: err}
	}
	return clip, nil
}

// findPipelineArtifact resolves which pipeline format is present. Exactly one
// of the supported artifacts must exist.
func findPipelineArtifact(dir string) (string, error) {
	var found []string
	for _, name := range []string{PipelineJSONFile, PipelineONNXFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	switch len(found) {
	case 0:
		return "", &MissingArtifactError{Path: filepath.Join(dir, PipelineJSONFile)}
	case 1:
		return found[0], nil
	default:
		return "", &MalformedArtifactError{
			Path: dir,
			Err:  fmt.Errorf("both %s and %s present, remove one", PipelineJSONFile, PipelineONNXFile),
		}
	}
}

func readArtifact(path string) ([]byte, error) {
	// #nosec G304 -- artifact location is fixed at startup
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingArtifactError{Path: path}
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Fingerprint returns the hex sha256 digest of a file. The drift watcher
// compares against these to detect artifact changes after startup.
func Fingerprint(path string) (string, error) {
	// #nosec G304 -- artifact location is fixed at startup
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Dir returns the artifacts directory the store was loaded from.
func (s *Store) Dir() string {
	return s.dir
}

// Metadata returns a copy of the loaded metadata. Absent column lists come
// back as empty slices so the metadata endpoint always emits JSON arrays.
func (s *Store) Metadata() Metadata {
	meta := Metadata{
		BaseFeatures:    copyColumns(s.meta.BaseFeatures),
		TextCols:        copyColumns(s.meta.TextCols),
		CatCols:         copyColumns(s.meta.CatCols),
		NumCols:         copyColumns(s.meta.NumCols),
		LibraryVersions: make(map[string]string, len(s.meta.LibraryVersions)),
	}
	for k, v := range s.meta.LibraryVersions {
		meta.LibraryVersions[k] = v
	}
	return meta
}

func copyColumns(cols []string) []string {
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// BaseFeatures returns a copy of the ordered base feature list.
func (s *Store) BaseFeatures() []string {
	return append([]string(nil), s.meta.BaseFeatures...)
}

// Threshold returns the decision threshold shipped with the artifacts.
func (s *Store) Threshold() float64 {
	return s.threshold
}

// ClipStats returns a copy of the clip bounds, or nil when none were shipped.
func (s *Store) ClipStats() ClipStats {
	if s.clip == nil {
		return nil
	}
	clip := make(ClipStats, len(s.clip))
	for k, v := range s.clip {
		clip[k] = v
	}
	return clip
}

// ClipStatsLoaded reports whether clip statistics were present at load.
func (s *Store) ClipStatsLoaded() bool {
	return s.clip != nil
}

// Pipeline returns the loaded scoring pipeline.
func (s *Store) Pipeline() pipeline.Pipeline {
	return s.pipe
}

// PipelinePath returns the path of the pipeline artifact that was loaded.
func (s *Store) PipelinePath() string {
	return s.pipelinePath
}

// Fingerprints returns a copy of the sha256 digests recorded at load, keyed
// by artifact file name.
func (s *Store) Fingerprints() map[string]string {
	out := make(map[string]string, len(s.fingerprints))
	for k, v := range s.fingerprints {
		out[k] = v
	}
	return out
}

// Close releases pipeline resources.
func (s *Store) Close() error {
	return s.pipe.Close()
}
