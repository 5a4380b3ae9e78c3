package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	"github.com/dodge1218/prompt-intelligence/internal/events"
	"github.com/dodge1218/prompt-intelligence/internal/export"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
	"github.com/dodge1218/prompt-intelligence/internal/service/scoring"
	"github.com/dodge1218/prompt-intelligence/internal/service/similarity"
	"github.com/dodge1218/prompt-intelligence/pkg/api"
)

const (
	defaultAnalysisLimit = 100
	maxAnalysisLimit     = 500
)

// Scorer rates prompts.
type Scorer interface {
	Analyze(ctx context.Context, prompt, model string) (*domain.PromptAnalysis, error)
	Models() []scoring.Model
}

// SimilarityFinder embeds prompts and searches for near matches.
type SimilarityFinder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	FindSimilar(ctx context.Context, userID, text string, threshold float64, limit int) ([]domain.SimilarPrompt, error)
	DetectDuplicateWithEmbedding(ctx context.Context, userID, text string, embedding []float64) similarity.Duplicate
	BackfillEmbeddings(ctx context.Context, userID string, batchSize int) (*similarity.BackfillResult, error)
}

// AnalysisStore persists analyses.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error
	ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error)
	DeleteAnalysis(ctx context.Context, userID, analysisID string) error
	DeleteAllAnalyses(ctx context.Context, userID string) (int, error)
	DiscoverPrompts(ctx context.Context, query repository.DiscoverQuery) ([]domain.DiscoveredPrompt, error)
}

// AnalysisHandler serves prompt scoring, history and similarity search.
type AnalysisHandler struct {
	scorer     Scorer
	store      AnalysisStore
	similarity SimilarityFinder
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalysisHandler creates an analysis handler. finder may be nil when no
// embedding provider is configured.
func NewAnalysisHandler(
	scorer Scorer,
	store AnalysisStore,
	finder SimilarityFinder,
	publisher events.Publisher,
	logger *zap.Logger,
) *AnalysisHandler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &AnalysisHandler{
		scorer:     scorer,
		store:      store,
		similarity: finder,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// AnalyzeRequest is the body of POST /api/analyses.
type AnalyzeRequest struct {
	Prompt string `json:"prompt" validate:"required,max=20000"`
	Model  string `json:"model,omitempty" validate:"omitempty,max=64"`
}

// AnalyzeResponse is returned after a prompt is scored and saved.
type AnalyzeResponse struct {
	Analysis      *domain.PromptAnalysis `json:"analysis"`
	Duplicate     similarity.Duplicate   `json:"duplicate"`
	EstimatedCost float64                `json:"estimatedCost"`
}

// SimilarRequest is the body of POST /api/prompts/similar.
type SimilarRequest struct {
	Prompt    string  `json:"prompt" validate:"required"`
	Threshold float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	Limit     int     `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// Analyze handles POST /api/analyses.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	analysis, err := h.scorer.Analyze(ctx, req.Prompt, req.Model)
	if err != nil {
		api.FromError(w, err)
		return
	}
	analysis.UserID = user

	// The duplicate check runs before saving so the new prompt cannot match
	// itself.
	var dup similarity.Duplicate
	if h.similarity != nil {
		embedding, err := h.similarity.Embed(ctx, req.Prompt)
		if err != nil {
			h.logger.Warn("embedding failed, saving analysis without it",
				zap.String("user_id", user),
				zap.Error(err))
		} else {
			analysis.Embedding = embedding
			dup = h.similarity.DetectDuplicateWithEmbedding(ctx, user, req.Prompt, embedding)
		}
	}

	if err := h.store.SaveAnalysis(ctx, analysis); err != nil {
		h.logger.Error("failed to save analysis", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}

	evt := events.PromptAnalyzed{UserID: user, AnalysisID: analysis.ID, OccurredAt: h.now().UTC()}
	if err := h.publisher.Publish(ctx, evt); err != nil {
		h.logger.Warn("failed to publish event",
			zap.String("detail_type", evt.EventType()),
			zap.String("user_id", user),
			zap.Error(err))
	}

	model := req.Model
	if model == "" {
		model = modelFromVersion(analysis.ModelVersion)
	}
	cost, _ := scoring.EstimateCost(analysis.TokenCount, model)

	api.Success(w, http.StatusCreated, AnalyzeResponse{
		Analysis:      analysis,
		Duplicate:     dup,
		EstimatedCost: cost,
	})
}

// ListAnalyses handles GET /api/analyses?limit=n.
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultAnalysisLimit, maxAnalysisLimit)
	if err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	analyses, err := h.store.ListAnalyses(r.Context(), user, limit)
	if err != nil {
		h.logger.Error("failed to list analyses", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, analyses)
}

// ExportAnalyses handles GET /api/analyses/export?format=csv|json.
func (h *AnalysisHandler) ExportAnalyses(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	analyses, err := h.store.ListAnalyses(r.Context(), user, maxAnalysisLimit)
	if err != nil {
		h.logger.Error("failed to export analyses", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}

	var body []byte
	switch format {
	case export.FormatCSV:
		body = export.AnalysesCSV(analyses)
	default:
		if body, err = export.JSON(analyses); err != nil {
			api.FromError(w, err)
			return
		}
	}

	api.Attachment(w, format.ContentType(), export.AnalysisFilename(format, h.now()), body)
}

// DeleteAnalysis handles DELETE /api/analyses/{id}.
func (h *AnalysisHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteAnalysis(r.Context(), user, id); err != nil {
		h.logger.Warn("failed to delete analysis",
			zap.String("user_id", user),
			zap.String("analysis_id", id),
			zap.Error(err))
		api.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHistoryResponse reports how many analyses were removed.
type DeleteHistoryResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteAllAnalyses handles DELETE /api/analyses.
func (h *AnalysisHandler) DeleteAllAnalyses(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteAllAnalyses(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to delete history", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, DeleteHistoryResponse{Deleted: deleted})
}

// FindSimilar handles POST /api/prompts/similar.
func (h *AnalysisHandler) FindSimilar(w http.ResponseWriter, r *http.Request) {
	if h.similarity == nil {
		api.Error(w, http.StatusServiceUnavailable, "similarity search is not configured")
		return
	}

	var req SimilarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	matches, err := h.similarity.FindSimilar(r.Context(), user, req.Prompt, req.Threshold, req.Limit)
	if err != nil {
		h.logger.Error("similarity search failed", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, matches)
}

// ListModels handles GET /api/models.
func (h *AnalysisHandler) ListModels(w http.ResponseWriter, _ *http.Request) {
	api.Success(w, http.StatusOK, h.scorer.Models())
}

// modelFromVersion recovers the model id from a "<model>-v1" version tag.
func modelFromVersion(version string) string {
	return strings.TrimSuffix(version, "-v1")
}
