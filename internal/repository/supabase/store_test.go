package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap/zaptest"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
}

// fakePostgrest answers every request with status and body and records what it saw.
type fakePostgrest struct {
	status   int
	body     string
	requests []recordedRequest
}

func (f *fakePostgrest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := map[string]string{}
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  query,
		Body:   string(body),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.body)
}

func (f *fakePostgrest) last() recordedRequest {
	return f.requests[len(f.requests)-1]
}

func newTestStore(t *testing.T, status int, body string) (*Store, *fakePostgrest) {
	t.Helper()
	fake := &fakePostgrest{status: status, body: body}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := supa.NewClient(server.URL, "test-key", nil)
	require.NoError(t, err)
	return NewStore(client, zaptest.NewLogger(t)), fake
}

func TestFindUnchainedPrompts(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[
		{"id":"p1","prompt":"first","created_at":"2025-03-01T09:00:00+00:00"},
		{"id":"p2","prompt":"second","created_at":"2025-03-01T09:10:00+00:00"}
	]`)
	since := time.Date(2025, 2, 22, 9, 0, 0, 0, time.UTC)

	prompts, err := store.FindUnchainedPrompts(context.Background(), repository.CandidateQuery{UserID: "user-1", Since: since})
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Equal(t, "p1", prompts[0].ID)
	assert.Equal(t, "second", prompts[1].PromptText)
	assert.True(t, prompts[1].CreatedAt.Equal(time.Date(2025, 3, 1, 9, 10, 0, 0, time.UTC)))

	req := fake.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.True(t, strings.HasSuffix(req.Path, "/prompt_analyses"))
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
	assert.Equal(t, "is.null", req.Query["chain_id"])
	assert.Equal(t, "gte.2025-02-22T09:00:00Z", req.Query["created_at"])
}

func TestFindUnchainedPrompts_EmptyIsNonNil(t *testing.T) {
	store, _ := newTestStore(t, http.StatusOK, `[]`)

	prompts, err := store.FindUnchainedPrompts(context.Background(), repository.CandidateQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.NotNil(t, prompts)
	assert.Empty(t, prompts)
}

func TestInsertChain(t *testing.T) {
	store, fake := newTestStore(t, http.StatusCreated, `[{"id":"chain-1","user_id":"user-1","prompt_count":2}]`)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	record := domain.ChainRecord{
		UserID:         "user-1",
		StartTimestamp: start,
		EndTimestamp:   start.Add(10 * time.Minute),
		PromptCount:    2,
		ChainMetadata: domain.ChainMetadata{
			LoopPattern:  domain.LoopResolved,
			ThemeCluster: []string{"coding"},
		},
	}

	inserted, err := store.InsertChain(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "chain-1", inserted.ID)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.True(t, strings.HasSuffix(req.Path, "/prompt_chains"))

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "user-1", sent["user_id"])
	assert.Equal(t, "resolved", sent["loop_pattern"])
	assert.NotContains(t, sent, "id")
	require.Contains(t, sent, "vow_event")
	assert.Nil(t, sent["vow_event"])
	require.Contains(t, sent, "symbolic_role_drift")
	assert.Nil(t, sent["symbolic_role_drift"])
}

func TestInsertChain_UniqueViolationIsConflict(t *testing.T) {
	store, _ := newTestStore(t, http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint","details":"","hint":""}`)

	_, err := store.InsertChain(context.Background(), domain.ChainRecord{UserID: "user-1", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestInsertChain_ServerError(t *testing.T) {
	store, _ := newTestStore(t, http.StatusInternalServerError, `{"code":"XX000","message":"boom"}`)

	_, err := store.InsertChain(context.Background(), domain.ChainRecord{UserID: "user-1"})
	require.Error(t, err)
	assert.False(t, apperrors.IsConflict(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestLinkPrompts(t *testing.T) {
	store, fake := newTestStore(t, http.StatusNoContent, ``)

	err := store.LinkPrompts(context.Background(), "user-1", "chain-1", []string{"p1", "p2"})
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "in.(p1,p2)", req.Query["id"])
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
	assert.JSONEq(t, `{"chain_id":"chain-1"}`, req.Body)
}

func TestLinkPrompts_NoIDsSkipsRequest(t *testing.T) {
	store, fake := newTestStore(t, http.StatusNoContent, ``)

	require.NoError(t, store.LinkPrompts(context.Background(), "user-1", "chain-1", nil))
	assert.Empty(t, fake.requests)
}

func TestFindChainByIdempotencyKey(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, fake := newTestStore(t, http.StatusOK, `[{"id":"chain-9","user_id":"user-1","idempotency_key":"k"}]`)

		chain, err := store.FindChainByIdempotencyKey(context.Background(), "user-1", "k")
		require.NoError(t, err)
		assert.Equal(t, "chain-9", chain.ID)
		assert.Equal(t, "eq.k", fake.last().Query["idempotency_key"])
	})

	t.Run("missing", func(t *testing.T) {
		store, _ := newTestStore(t, http.StatusOK, `[]`)

		_, err := store.FindChainByIdempotencyKey(context.Background(), "user-1", "k")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestSaveAndListAnalyses(t *testing.T) {
	store, fake := newTestStore(t, http.StatusCreated, `[{"id":"a1","user_id":"user-1","prompt":"p","created_at":"2025-03-01T09:00:00+00:00"}]`)
	analysis := &domain.PromptAnalysis{
		UserID:   "user-1",
		Prompt:   "p",
		ICEScore: domain.ICEScore{Idea: 80, Cost: 60, Exploitability: 70, Overall: 70},
		PIEClassification: domain.PIEClassification{
			Tier:                2,
			PrimaryCategory:     domain.CategoryStrategic,
			SecondaryCategories: []domain.PIECategory{domain.CategoryBuilder},
		},
		Embedding: []float64{0.1, 0.2},
	}

	require.NoError(t, store.SaveAnalysis(context.Background(), analysis))
	assert.Equal(t, "a1", analysis.ID)
	assert.False(t, analysis.CreatedAt.IsZero())

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(fake.last().Body), &sent))
	assert.EqualValues(t, 80, sent["ice_idea"])
	assert.EqualValues(t, 2, sent["pie_tier"])
	assert.Equal(t, []interface{}{0.1, 0.2}, sent["vector_embedding"])
	assert.Equal(t, []interface{}{}, sent["suggestions"])

	fake.status = http.StatusOK
	fake.body = `[{"id":"a1","user_id":"user-1","prompt":"p","ice_overall":70,"pie_tier":2,
		"pie_primary_category":"strategic","pie_secondary_categories":["builder"],"chain_id":"chain-1",
		"created_at":"2025-03-01T09:00:00+00:00"}]`

	analyses, err := store.ListAnalyses(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, 70, analyses[0].ICEScore.Overall)
	assert.Equal(t, domain.CategoryStrategic, analyses[0].PIEClassification.PrimaryCategory)
	assert.Equal(t, "chain-1", analyses[0].ChainID)
	assert.Equal(t, "5", fake.last().Query["limit"])
}

func TestFindSimilarPrompts(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK,
		`[{"id":"a1","prompt":"close","ice_overall":72,"pie_tier":1,"similarity":0.93}]`)

	similar, err := store.FindSimilarPrompts(context.Background(), repository.SimilarityQuery{
		UserID:    "user-1",
		Embedding: []float64{0.5, 0.5},
		Threshold: 0.7,
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.InDelta(t, 0.93, similar[0].Similarity, 1e-9)

	req := fake.last()
	assert.True(t, strings.HasSuffix(req.Path, "/rpc/find_similar_prompts"))
	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "user-1", sent["filter_user_id"])
	assert.EqualValues(t, 3, sent["match_count"])
}

func TestDecodeSimilar(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantLen int
	}{
		{name: "rows", body: `[{"id":"a","similarity":0.8}]`, wantLen: 1},
		{name: "empty array", body: `[]`, wantLen: 0},
		{name: "null", body: `null`, wantLen: 0},
		{name: "empty body", body: ``, wantErr: true},
		{name: "error payload", body: `{"code":"42883","message":"function does not exist"}`, wantErr: true},
		{name: "garbage", body: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSimilar(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestCanceledContext(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListChains(ctx, "user-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.requests)
}

func TestDeleteAnalysis(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[{"id":"a1"}]`)

	require.NoError(t, store.DeleteAnalysis(context.Background(), "user-1", "a1"))

	req := fake.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.True(t, strings.HasSuffix(req.Path, "/prompt_analyses"))
	assert.Equal(t, "eq.a1", req.Query["id"])
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
}

func TestDeleteAnalysis_MissingIsNotFound(t *testing.T) {
	store, _ := newTestStore(t, http.StatusOK, `[]`)

	err := store.DeleteAnalysis(context.Background(), "user-1", "gone")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}

func TestDeleteAllAnalyses(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[{"id":"a1"},{"id":"a2"}]`)

	deleted, err := store.DeleteAllAnalyses(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	req := fake.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
	_, scoped := req.Query["id"]
	assert.False(t, scoped)
}

func TestDiscoverPrompts(t *testing.T) {
	tests := []struct {
		name     string
		query    repository.DiscoverQuery
		wantPath string
		wantArgs map[string]interface{}
	}{
		{
			name:     "novel",
			query:    repository.DiscoverQuery{UserID: "user-1", Kind: repository.DiscoverNovel, Limit: 10},
			wantPath: "/rpc/get_top_novel_prompts",
			wantArgs: map[string]interface{}{"user_uuid": "user-1", "limit_count": float64(10)},
		},
		{
			name:     "exploitable",
			query:    repository.DiscoverQuery{UserID: "user-1", Kind: repository.DiscoverExploitable, Limit: 5},
			wantPath: "/rpc/get_top_exploitable_prompts",
			wantArgs: map[string]interface{}{"user_uuid": "user-1", "limit_count": float64(5)},
		},
		{
			name:     "classified without filters",
			query:    repository.DiscoverQuery{UserID: "user-1", Kind: repository.DiscoverClassified, Limit: 50},
			wantPath: "/rpc/get_prompts_by_classification",
			wantArgs: map[string]interface{}{"user_uuid": "user-1", "limit_count": float64(50), "target_tier": nil, "target_category": nil},
		},
		{
			name:     "classified with filters",
			query:    repository.DiscoverQuery{UserID: "user-1", Kind: repository.DiscoverClassified, Tier: 2, Category: "tool", Limit: 50},
			wantPath: "/rpc/get_prompts_by_classification",
			wantArgs: map[string]interface{}{"user_uuid": "user-1", "limit_count": float64(50), "target_tier": float64(2), "target_category": "tool"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, fake := newTestStore(t, http.StatusOK,
				`[{"id":"a1","prompt":"idea","ice_idea":91,"ice_overall":70,"pie_tier":2,"created_at":"2025-03-01T09:00:00+00:00"}]`)

			rows, err := store.DiscoverPrompts(context.Background(), tt.query)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, 91, rows[0].ICEIdea)
			assert.True(t, rows[0].CreatedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))

			req := fake.last()
			assert.True(t, strings.HasSuffix(req.Path, tt.wantPath), req.Path)
			var sent map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
			assert.Equal(t, tt.wantArgs, sent)
		})
	}
}

func TestDiscoverPrompts_Errors(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		store, fake := newTestStore(t, http.StatusOK, `[]`)
		_, err := store.DiscoverPrompts(context.Background(), repository.DiscoverQuery{UserID: "user-1", Kind: "popular"})
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, fake.requests)
	})

	t.Run("function error", func(t *testing.T) {
		store, _ := newTestStore(t, http.StatusNotFound, `{"code":"42883","message":"function does not exist"}`)
		_, err := store.DiscoverPrompts(context.Background(), repository.DiscoverQuery{UserID: "user-1", Kind: repository.DiscoverNovel})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "42883")
	})
}

func TestFindUnembeddedPrompts(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[{"id":"p1","prompt":"first","created_at":"2025-03-01T09:00:00+00:00"}]`)

	prompts, err := store.FindUnembeddedPrompts(context.Background(), "user-1", 25)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "first", prompts[0].PromptText)

	req := fake.last()
	assert.Equal(t, "is.null", req.Query["vector_embedding"])
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
	assert.Equal(t, "25", req.Query["limit"])
}

func TestSetEmbedding(t *testing.T) {
	store, fake := newTestStore(t, http.StatusOK, `[{"id":"p1"}]`)

	require.NoError(t, store.SetEmbedding(context.Background(), "user-1", "p1", []float64{0.25, 0.5}))

	req := fake.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "eq.p1", req.Query["id"])
	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, []interface{}{0.25, 0.5}, sent["vector_embedding"])

	missing, _ := newTestStore(t, http.StatusOK, `[]`)
	assert.True(t, apperrors.IsNotFound(missing.SetEmbedding(context.Background(), "user-1", "gone", []float64{1})))
}
