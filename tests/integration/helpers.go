package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/approvia/claimscore/internal/artifactwatch"
	"github.com/approvia/claimscore/pkg/artifact"
	"github.com/approvia/claimscore/pkg/config"
	"github.com/approvia/claimscore/pkg/predict"
	"github.com/approvia/claimscore/pkg/server"
)

// Artifact fixtures for a small but fully featured model: one engineered
// numeric column, one derived ratio, a categorical vocabulary, and a tf-idf
// text column reached through the SERVICE_DESC alias. Coefficients are chosen
// so expected probabilities are exact sigmoid values.
const (
	fixtureMetadata = `{
  "base_features": ["CLAIMED_AMOUNT_LOG1P", "PATIENT_SHARE_PCT", "INSURER", "SRV_DESC"],
  "text_cols": ["SRV_DESC"],
  "cat_cols": ["INSURER"],
  "num_cols": ["CLAIMED_AMOUNT", "PATIENT_SHARE"],
  "library_versions": {"scikit-learn": "1.4.2", "pandas": "2.2.2"}
}`

	fixtureThreshold = `{"threshold": 0.6}`

	fixtureClipStats = `{"CLAIMED_AMOUNT": 100.0}`

	fixturePipeline = `{
  "format": "calibrated_linear",
  "version": 1,
  "features": [
    {"name": "CLAIMED_AMOUNT_LOG1P", "type": "numeric", "median": 0, "mean": 0, "scale": 1},
    {"name": "PATIENT_SHARE_PCT", "type": "numeric", "median": 0, "mean": 0, "scale": 1},
    {"name": "INSURER", "type": "categorical", "vocabulary": ["ACME", "GLOBEX"]},
    {"name": "SRV_DESC", "type": "text", "terms": {"surgery": 0, "consult": 1}, "idf": [1.0, 1.0]}
  ],
  "coefficients": [1.0, 0.0, 2.0, -2.0, -4.0, 0.0],
  "intercept": 0.0,
  "calibration": {"type": "none"}
}`
)

// Probabilities produced by the fixture model at decision values +2 and -2.
const (
	probaHigh = 0.880797
	probaLow  = 0.119203
)

func writeFixtureFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
}

// writeArtifacts lays out a complete artifacts directory and returns it.
func writeArtifacts(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	writeFixtureFile(t, filepath.Join(dir, artifact.MetadataFile), fixtureMetadata)
	writeFixtureFile(t, filepath.Join(dir, artifact.ThresholdFile), fixtureThreshold)
	writeFixtureFile(t, filepath.Join(dir, artifact.ClipStatsFile), fixtureClipStats)
	writeFixtureFile(t, filepath.Join(dir, artifact.PipelineJSONFile), fixturePipeline)
	return dir
}

// service is one running claimscore instance bound to a loopback port,
// wired the same way the binary wires it: store, predictor, metrics, server,
// and the artifact drift watcher feeding the staleness gauge.
type service struct {
	BaseURL string
	Dir     string
	Store   *artifact.Store
	Metrics *server.Metrics
	Server  *server.Server
}

// startService loads the fixture artifacts, starts a server on 127.0.0.1:0,
// and registers a full teardown with t.Cleanup. mutate may adjust the config
// before the server starts.
func startService(t *testing.T, mutate func(*config.Config)) *service {
	t.Helper()

	dir := writeArtifacts(t)

	cfg := config.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ArtifactsDir = dir
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := artifact.Load(dir, artifact.Options{}, logger)
	if err != nil {
		t.Fatalf("failed to load artifacts: %v", err)
	}

	predictor := predict.New(store, logger)
	metrics := server.NewMetrics()
	srv := server.New(cfg, store, predictor, metrics, logger)

	var watcher *artifactwatch.Watcher
	if cfg.Watch != nil && cfg.Watch.Enabled {
		watcher, err = artifactwatch.New(store, func(file string, stale bool) {
			metrics.SetArtifactStale(file, stale)
		}, logger)
		if err != nil {
			t.Fatalf("failed to start artifact watcher: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("server exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop within timeout")
		}
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				t.Errorf("failed to close watcher: %v", err)
			}
		}
		if err := store.Close(); err != nil {
			t.Errorf("failed to close artifact store: %v", err)
		}
	})

	WaitForCondition(t, 5*time.Second, func() bool {
		return srv.Addr() != ""
	})

	return &service{
		BaseURL: "http://" + srv.Addr(),
		Dir:     dir,
		Store:   store,
		Metrics: metrics,
		Server:  srv,
	}
}

func closeBody(t *testing.T, c io.Closer) {
	t.Helper()

	if c == nil {
		return
	}

	if err := c.Close(); err != nil {
		t.Fatalf("failed to close body: %v", err)
	}
}

// getJSON issues a GET and decodes the JSON response body.
func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer closeBody(t, resp.Body)

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response from %s: %v", url, err)
	}
	return resp.StatusCode, doc
}

// postJSON posts a JSON body and decodes the JSON response.
func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer closeBody(t, resp.Body)

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response from %s: %v", url, err)
	}
	return resp.StatusCode, doc
}

// getText issues a GET and returns the raw response body.
func getText(t *testing.T, url string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer closeBody(t, resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response from %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

// predictions pulls the predictions array out of a decoded predict response.
func predictions(t *testing.T, doc map[string]any) []map[string]any {
	t.Helper()

	raw, ok := doc["predictions"].([]any)
	if !ok {
		t.Fatalf("response has no predictions array: %v", doc)
	}

	preds := make([]map[string]any, len(raw))
	for i, item := range raw {
		pred, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("prediction %d is not an object: %v", i, item)
		}
		preds[i] = pred
	}
	return preds
}

// WaitForCondition polls condition every 10ms and fails the test when the
// timeout passes first.
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("Condition not met within timeout %v", timeout)
}
