package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	mw "github.com/kiranshivaraju/visionbench/internal/api/middleware"
	"github.com/kiranshivaraju/visionbench/internal/cache"
	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/internal/evaluation"
	"github.com/kiranshivaraju/visionbench/internal/importer"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *testCache) Ping(_ context.Context) error                                      { return c.pingErr }
func (c *testCache) SetProgress(_ context.Context, _ uuid.UUID, _ models.EvaluationProgress, _ time.Duration) error {
	return nil
}
func (c *testCache) GetProgress(_ context.Context, _ uuid.UUID) (*models.EvaluationProgress, bool, error) {
	return nil, false, nil
}
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// pingStore lets a test fail the database probe.
type pingStore struct {
	*store.MemoryStore
	pingErr error
}

func (s *pingStore) Ping(_ context.Context) error { return s.pingErr }

// ─── router wiring ───────────────────────────────────────────────────────────

func testRouter(t *testing.T, st *pingStore, c cache.Cache) http.Handler {
	t.Helper()
	svc := evaluation.NewService(evaluation.Deps{Store: st, Cache: c}, evaluation.Options{})
	runner := importer.NewRunner(st, nil)
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
		_ = runner.Shutdown(context.Background())
	})
	return newRouter(st, c, svc, runner, 60, mw.NewMetrics(prometheus.NewRegistry()))
}

func health(t *testing.T, router http.Handler) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealth_AllOK(t *testing.T) {
	router := testRouter(t, &pingStore{MemoryStore: store.NewMemoryStore()}, &testCache{})

	code, body := health(t, router)

	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

func TestHealth_DatabaseDegraded(t *testing.T) {
	st := &pingStore{MemoryStore: store.NewMemoryStore(), pingErr: errors.New("connection refused")}
	router := testRouter(t, st, &testCache{})

	code, body := health(t, router)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealth_CacheDegraded(t *testing.T) {
	router := testRouter(t, &pingStore{MemoryStore: store.NewMemoryStore()}, &testCache{pingErr: errors.New("timeout")})

	code, _ := health(t, router)

	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRouter_ServesMetricsAndProtectsAPI(t *testing.T) {
	router := testRouter(t, &pingStore{MemoryStore: store.NewMemoryStore()}, &testCache{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/evaluations/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── config mapping ──────────────────────────────────────────────────────────

func TestServiceOptions(t *testing.T) {
	cfg := &config.Config{
		AI: config.AIConfig{
			InferenceTimeout:     45 * time.Second,
			MaxAttempts:          5,
			RetryInitialInterval: time.Second,
		},
		Evaluation: config.EvaluationConfig{
			DefaultConcurrency:   7,
			ExpectedOutputTokens: 80,
			CharsPerToken:        3,
		},
	}

	opts := serviceOptions(cfg)

	assert.Equal(t, 7, opts.DefaultConcurrency)
	assert.Equal(t, 3, opts.Heuristic.CharsPerToken)
	assert.Equal(t, int64(80), opts.Heuristic.ExpectedOutputTokens)
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, 45*time.Second, opts.Retry.CallTimeout)
}

func TestProviderFactory(t *testing.T) {
	factory := providerFactory(config.AIConfig{})

	_, err := factory(&models.ModelConfig{Provider: "openai", ModelName: "gpt-4o"})
	assert.ErrorIs(t, err, ai.ErrProviderNotConfigured)

	p, err := factory(&models.ModelConfig{Provider: "ollama", ModelName: "llava"})
	require.NoError(t, err)
	assert.Equal(t, "llava", p.Model())
}

// ─── run ─────────────────────────────────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
