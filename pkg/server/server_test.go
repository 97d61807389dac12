package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/claimscore/pkg/artifact"
	"github.com/approvia/claimscore/pkg/config"
	"github.com/approvia/claimscore/pkg/predict"
)

// zeroFlagModel scores sigmoid(4*CLAIMED_AMOUNT_ZERO_FLAG - 2): a zero
// claimed amount approves at the default threshold, anything else denies.
const zeroFlagModel = `{
  "format": "calibrated_linear",
  "version": 1,
  "features": [
    {"name": "CLAIMED_AMOUNT_ZERO_FLAG", "type": "numeric", "median": 0, "mean": 0, "scale": 0.25}
  ],
  "coefficients": [1],
  "intercept": -2,
  "calibration": {"type": "none"}
}`

const testMetadata = `{
  "base_features": ["CLAIMED_AMOUNT_ZERO_FLAG"],
  "text_cols": [],
  "cat_cols": [],
  "num_cols": ["CLAIMED_AMOUNT"],
  "library_versions": {"scikit-learn": "1.4.2"}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.MetadataFile), []byte(testMetadata), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.ThresholdFile), []byte(`{"threshold": 0.5}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.PipelineJSONFile), []byte(zeroFlagModel), 0o600))
	return dir
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *Server) {
	t.Helper()

	logger := testLogger()
	dir := writeTestArtifacts(t)

	store, err := artifact.Load(dir, artifact.Options{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.ArtifactsDir = dir
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(cfg, store, predict.New(store, logger), NewMetrics(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func postPredict(t *testing.T, ts *httptest.Server, query, body string) (*http.Response, []byte) {
	t.Helper()
	target := ts.URL + "/predict"
	if query != "" {
		target += "?" + query
	}
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.PipelineLoaded)
	assert.Equal(t, "calibrated_linear", health.PipelineFormat)
	assert.Equal(t, 1, health.FeaturesExpected)
	assert.Equal(t, 0.5, health.Threshold)
	assert.False(t, health.ClipStatsLoaded)
	assert.NotEmpty(t, health.ArtifactsDir)
}

func TestMetadataEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metadata")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var meta map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, []any{"CLAIMED_AMOUNT_ZERO_FLAG"}, meta["base_features"])
	assert.Equal(t, []any{"CLAIMED_AMOUNT"}, meta["num_cols"])
	// Empty column lists stay JSON arrays, never null.
	assert.Equal(t, []any{}, meta["text_cols"])
	assert.Equal(t, []any{}, meta["cat_cols"])
	assert.Equal(t, map[string]any{"scikit-learn": "1.4.2"}, meta["library_versions"])
}

func TestPredictSingleObject(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postPredict(t, ts, "", `{"CLAIMED_AMOUNT": 0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result predictResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.N)
	require.Len(t, result.Predictions, 1)

	p := result.Predictions[0]
	assert.InDelta(t, 0.880797, p.ProbaApproved, 1e-6)
	assert.Equal(t, 0.5, p.Threshold)
	assert.Equal(t, 1, p.Decision)
	assert.Equal(t, 0, p.RowID)
}

func TestPredictBatchRowIDs(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postPredict(t, ts, "", `[
      {"CLAIMED_AMOUNT": 0},
      {"CLAIMED_AMOUNT": 100},
      {"CLAIMED_AMOUNT": 0}
    ]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result predictResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.OK)
	assert.Equal(t, 3, result.N)
	require.Len(t, result.Predictions, 3)

	for i, p := range result.Predictions {
		assert.Equal(t, i, p.RowID)
	}
	assert.Equal(t, 1, result.Predictions[0].Decision)
	assert.Equal(t, 0, result.Predictions[1].Decision)
	assert.Equal(t, 1, result.Predictions[2].Decision)
}

func TestPredictEmptyArray(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postPredict(t, ts, "", `[]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result predictResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.OK)
	assert.Equal(t, 0, result.N)
	assert.NotNil(t, result.Predictions)
	assert.Contains(t, string(body), `"predictions":[]`)
}

func TestPredictRejectsNonObjectPayloads(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"scalar", `42`, "payload must be a JSON object or an array of JSON objects"},
		{"string", `"claim"`, "payload must be a JSON object or an array of JSON objects"},
		{"bool", `true`, "payload must be a JSON object or an array of JSON objects"},
		{"null", `null`, "payload must be a JSON object or an array of JSON objects"},
		{"array with scalar item", `[{"CLAIMED_AMOUNT": 0}, 7]`, "array item 1 is not a JSON object"},
		{"malformed", `{not json`, "invalid JSON payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postPredict(t, ts, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var result errorResponse
			require.NoError(t, json.Unmarshal(body, &result))
			assert.False(t, result.OK)
			assert.Contains(t, result.Error, tt.wantErr)
		})
	}
}

func TestPredictThresholdOverride(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	// Raising the threshold above the score flips an approval to a denial.
	resp, body := postPredict(t, ts, "threshold=0.9", `{"CLAIMED_AMOUNT": 0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result predictResponse
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Predictions, 1)
	assert.Equal(t, 0, result.Predictions[0].Decision)
	assert.Equal(t, 0.9, result.Predictions[0].Threshold)
	assert.InDelta(t, 0.880797, result.Predictions[0].ProbaApproved, 1e-6)

	// Lowering it approves a low score.
	resp, body = postPredict(t, ts, "threshold=0.1", `{"CLAIMED_AMOUNT": 100}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Predictions, 1)
	assert.Equal(t, 1, result.Predictions[0].Decision)
	assert.Equal(t, 0.1, result.Predictions[0].Threshold)
}

func TestPredictThresholdInvalid(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, raw := range []string{"abc", "Inf", "-Inf", "NaN", "1..2"} {
		t.Run(raw, func(t *testing.T) {
			resp, body := postPredict(t, ts, "threshold="+url.QueryEscape(raw), `{"CLAIMED_AMOUNT": 0}`)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var result errorResponse
			require.NoError(t, json.Unmarshal(body, &result))
			assert.False(t, result.OK)
			assert.Contains(t, result.Error, "not a finite number")
		})
	}
}

func TestPredictBodyTooLarge(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 16
	})

	resp, body := postPredict(t, ts, "", `{"CLAIMED_AMOUNT": 0, "COUNTRY": "LEB"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result errorResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "invalid JSON payload")
}

func TestPredictMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/predict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRootRedirectsToWeb(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/web", resp.Header.Get("Location"))
}

func TestWebPage(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/web")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), `id="CLAIMED_AMOUNT"`)
	assert.Contains(t, string(page), `id="DIAGNOSIS_DESCRIPTION"`)
	assert.Contains(t, string(page), "/predict")
}

func TestUnknownPathNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, _ := postPredict(t, ts, "", `{"CLAIMED_AMOUNT": 0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postPredict(t, ts, "", `"bad payload"`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)

	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "claimscore_http_requests_total")
	assert.Contains(t, text, `claimscore_decisions_total{decision="approved"} 1`)
	assert.Contains(t, text, `claimscore_rejected_inputs_total{kind="invalid_input"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = false
	})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-1234")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-1234", resp.Header.Get(RequestIDHeader))
}

func TestServerStartStop(t *testing.T) {
	logger := testLogger()
	dir := writeTestArtifacts(t)

	store, err := artifact.Load(dir, artifact.Options{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.ArtifactsDir = dir
	cfg.ListenAddr = "127.0.0.1:0"

	srv := New(cfg, store, predict.New(store, logger), NewMetrics(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+addr+"/predict", "application/json",
		bytes.NewReader([]byte(`{"CLAIMED_AMOUNT": 0}`)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}
