package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository/memory"
)

// keywordEmbedder maps known texts to fixed vectors.
type keywordEmbedder struct {
	vectors map[string][]float64
	err     error
	calls   int
}

func (e *keywordEmbedder) Name() string { return "fake" }

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

type latencyRecorder struct{ providers []string }

func (r *latencyRecorder) ObserveLLM(provider string, _ time.Duration) {
	r.providers = append(r.providers, provider)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	for _, a := range []domain.PromptAnalysis{
		{ID: "a1", UserID: "user-1", Prompt: "plan my week", Embedding: []float64{1, 0, 0}},
		{ID: "a2", UserID: "user-1", Prompt: "plan my month", Embedding: []float64{0.8, 0.6, 0}},
		{ID: "a3", UserID: "user-2", Prompt: "plan my week", Embedding: []float64{1, 0, 0}},
	} {
		require.NoError(t, store.SaveAnalysis(ctx, &a))
	}
	return store
}

func TestFindSimilar(t *testing.T) {
	embedder := &keywordEmbedder{vectors: map[string][]float64{"plan my weekend": {1, 0, 0}}}
	recorder := &latencyRecorder{}
	svc := NewService(embedder, seededStore(t), Config{}, zaptest.NewLogger(t), recorder)

	similar, err := svc.FindSimilar(context.Background(), "user-1", "plan my weekend", 0, 0)
	require.NoError(t, err)

	require.Len(t, similar, 2)
	assert.Equal(t, "a1", similar[0].ID)
	assert.InDelta(t, 1.0, similar[0].Similarity, 1e-9)
	assert.Equal(t, "a2", similar[1].ID)
	assert.InDelta(t, 0.8, similar[1].Similarity, 1e-9)
	assert.Equal(t, []string{"fake"}, recorder.providers)

	similar, err = svc.FindSimilar(context.Background(), "user-1", "plan my weekend", 0.9, 0)
	require.NoError(t, err)
	assert.Len(t, similar, 1)
}

func TestFindSimilar_EmptyText(t *testing.T) {
	svc := NewService(&keywordEmbedder{}, seededStore(t), Config{}, nil, nil)

	_, err := svc.FindSimilar(context.Background(), "user-1", " ", 0, 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestDetectDuplicate(t *testing.T) {
	embedder := &keywordEmbedder{vectors: map[string][]float64{
		"plan my week":  {1, 0, 0},
		"plan my month": {0.8, 0.6, 0},
	}}
	svc := NewService(embedder, seededStore(t), Config{}, zaptest.NewLogger(t), nil)

	dup := svc.DetectDuplicate(context.Background(), "user-1", "plan my week")
	assert.True(t, dup.IsDuplicate)
	require.NotNil(t, dup.SimilarPrompt)
	assert.Equal(t, "a1", dup.SimilarPrompt.ID)

	assert.False(t, svc.DetectDuplicate(context.Background(), "user-1", "something else").IsDuplicate)
	assert.False(t, svc.DetectDuplicate(context.Background(), "user-3", "plan my week").IsDuplicate)
}

func TestDetectDuplicate_DegradesOnFailure(t *testing.T) {
	t.Run("embedding error", func(t *testing.T) {
		svc := NewService(&keywordEmbedder{err: errors.New("quota")}, seededStore(t), Config{}, zaptest.NewLogger(t), nil)
		assert.Equal(t, Duplicate{}, svc.DetectDuplicate(context.Background(), "user-1", "plan my week"))
	})

	t.Run("search error", func(t *testing.T) {
		store := seededStore(t)
		store.SetError("FindSimilarPrompts", errors.New("db down"))
		svc := NewService(&keywordEmbedder{}, store, Config{}, zaptest.NewLogger(t), nil)
		assert.Equal(t, Duplicate{}, svc.DetectDuplicate(context.Background(), "user-1", "plan my week"))
	})
}

func TestDetectDuplicateWithEmbedding_SkipsEmbedding(t *testing.T) {
	embedder := &keywordEmbedder{}
	svc := NewService(embedder, seededStore(t), Config{}, zaptest.NewLogger(t), nil)

	dup := svc.DetectDuplicateWithEmbedding(context.Background(), "user-1", "anything", []float64{1, 0, 0})
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, 0, embedder.calls)
}

func TestOpenAIEmbedder(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"object": "list",
			"model": "text-embedding-3-large",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
			"usage": {"prompt_tokens": 3, "total_tokens": 3}
		}`)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder("test-key", server.URL+"/", "", option.WithMaxRetries(0))
	vec, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-large", body["model"])
	assert.Equal(t, "hello", body["input"])
	assert.Equal(t, "float", body["encoding_format"])
	assert.Equal(t, "openai:text-embedding-3-large", embedder.Name())
}

func TestBackfillEmbeddings(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, a := range []domain.PromptAnalysis{
		{ID: "has", Prompt: "plan my week", Embedding: []float64{1, 0, 0}},
		{ID: "old", Prompt: "plan my weekend"},
		{ID: "new", Prompt: "write a poem"},
	} {
		a.UserID = "user-1"
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveAnalysis(ctx, &a))
	}
	embedder := &keywordEmbedder{vectors: map[string][]float64{"plan my weekend": {1, 0, 0}}}
	svc := NewService(embedder, store, Config{}, zaptest.NewLogger(t), nil)

	result, err := svc.BackfillEmbeddings(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Scanned: 1, Embedded: 1}, *result)

	similar, err := svc.FindSimilar(ctx, "user-1", "plan my weekend", 0.99, 0)
	require.NoError(t, err)
	assert.Len(t, similar, 2, "oldest unembedded prompt is searchable after backfill")

	result, err = svc.BackfillEmbeddings(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Scanned: 1, Embedded: 1}, *result)

	remaining, err := store.FindUnembeddedPrompts(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestBackfillEmbeddings_CountsFailures(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAnalysis(ctx, &domain.PromptAnalysis{ID: "bare", UserID: "user-1", Prompt: "no vector"}))

	t.Run("embedding error", func(t *testing.T) {
		svc := NewService(&keywordEmbedder{err: errors.New("quota")}, store, Config{}, zaptest.NewLogger(t), nil)
		result, err := svc.BackfillEmbeddings(ctx, "user-1", 10)
		require.NoError(t, err)
		assert.Equal(t, BackfillResult{Scanned: 1, Failed: 1}, *result)
	})

	t.Run("listing error", func(t *testing.T) {
		store.SetError("FindUnembeddedPrompts", apperrors.Unavailable(apperrors.CodeServiceUnavailable, "db down").Build())
		defer store.ClearErrors()
		svc := NewService(&keywordEmbedder{}, store, Config{}, zaptest.NewLogger(t), nil)
		_, err := svc.BackfillEmbeddings(ctx, "user-1", 10)
		assert.True(t, apperrors.IsRetryable(err))
	})
}
