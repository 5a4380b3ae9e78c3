package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/chain"
	"github.com/dodge1218/prompt-intelligence/internal/config"
	"github.com/dodge1218/prompt-intelligence/internal/domain"
	"github.com/dodge1218/prompt-intelligence/internal/handlers"
	"github.com/dodge1218/prompt-intelligence/internal/middleware"
	"github.com/dodge1218/prompt-intelligence/internal/observability"
	"github.com/dodge1218/prompt-intelligence/internal/repository/memory"
	"github.com/dodge1218/prompt-intelligence/internal/service/scoring"
	"github.com/dodge1218/prompt-intelligence/pkg/auth"
	"github.com/dodge1218/prompt-intelligence/pkg/auth/authtest"
)

const secret = "router-test-secret"

func newTestRouter(t *testing.T, verifier auth.Verifier) (http.Handler, *memory.Store) {
	t.Helper()
	cfg := config.Defaults(config.Development)
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	logger := zap.NewNop()

	store := memory.NewStore()
	detector := chain.NewOrchestrator(store, chain.Config{}, logger)
	scorer := scoring.NewScorer("gpt-4o", logger)

	rt := NewRouter(
		cfg,
		handlers.NewChainHandler(detector, store, logger),
		handlers.NewAnalysisHandler(scorer, store, nil, nil, logger),
		verifier,
		observability.NewCollector("router_test"),
		logger,
	)
	return rt.Setup(), store
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "router_test_http_requests_total")
}

func TestDevAuth_DetectChains(t *testing.T) {
	h, store := newTestRouter(t, nil)
	base := time.Now().UTC().Add(-time.Hour)
	for i, text := range []string{"plan the deploy", "write the lambda", "ship it"} {
		store.AddPrompt("dev-user", domain.PromptRecord{
			ID:         string(rune('a' + i)),
			PromptText: text,
			CreatedAt:  base.Add(time.Duration(i) * 5 * time.Minute),
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chains/detect", nil)
	req.Header.Set(middleware.DevUserHeader, "dev-user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result chain.DetectionResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.ChainsDetected)

	req = httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	req.Header.Set(middleware.DevUserHeader, "dev-user")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var chains []domain.ChainRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chains))
	require.Len(t, chains, 1)
	assert.Equal(t, 3, chains[0].PromptCount)
}

func TestJWTAuth(t *testing.T) {
	validator, err := auth.NewJWTValidator(auth.JWTConfig{SigningMethod: "HS256", SecretKey: secret})
	require.NoError(t, err)
	h, _ := newTestRouter(t, validator)

	token, err := authtest.NewGenerator(secret, "", nil, time.Hour).Token("user-42", "u@example.com")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	validator, err := auth.NewJWTValidator(auth.JWTConfig{SigningMethod: "HS256", SecretKey: secret})
	require.NoError(t, err)
	h, _ := newTestRouter(t, validator)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyses", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze_UnconfiguredModel(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(`{"prompt":"hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisMaintenanceRoutes(t *testing.T) {
	h, store := newTestRouter(t, nil)
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, store.SaveAnalysis(context.Background(), &domain.PromptAnalysis{ID: id, UserID: "dev-user", Prompt: "prompt " + id}))
	}

	serve := func(method, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set(middleware.DevUserHeader, "dev-user")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodDelete, "/api/analyses/a1").Code)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodDelete, "/api/analyses/a1").Code)

	rec := serve(http.MethodGet, "/api/prompts/discover?kind=novel")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []domain.DiscoveredPrompt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "a2", rows[0].ID)

	assert.Equal(t, http.StatusServiceUnavailable, serve(http.MethodPost, "/api/prompts/embeddings/backfill").Code)

	rec = serve(http.MethodDelete, "/api/analyses")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())
}
