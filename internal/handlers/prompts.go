package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
	"github.com/dodge1218/prompt-intelligence/internal/validation"
	"github.com/dodge1218/prompt-intelligence/pkg/api"
)

const (
	defaultTopLimit        = 10
	defaultClassifiedLimit = 50
	maxDiscoverLimit       = 100
)

// DiscoverRequest holds the query of GET /api/prompts/discover.
type DiscoverRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=novel exploitable classified"`
	Tier     int    `json:"tier" validate:"omitempty,min=1,max=3"`
	Category string `json:"category" validate:"omitempty,oneof=dopamine escape loops builder deploy tool strategic kairos self-authoring"`
}

// BackfillRequest is the optional body of POST /api/prompts/embeddings/backfill.
type BackfillRequest struct {
	BatchSize int `json:"batchSize,omitempty" validate:"omitempty,min=1,max=500"`
}

// Discover handles GET /api/prompts/discover?kind=novel|exploitable|classified.
// The classified view also takes tier and category filters.
func (h *AnalysisHandler) Discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := DiscoverRequest{Kind: q.Get("kind"), Category: q.Get("category")}
	if raw := q.Get("tier"); raw != "" {
		tier, err := strconv.Atoi(raw)
		if err != nil {
			api.FromError(w, apperrors.Validation(apperrors.CodeInvalidInput, "invalid query parameter").
				WithDetails("tier must be 1, 2 or 3").
				Build())
			return
		}
		req.Tier = tier
	}
	if err := validation.Struct(&req); err != nil {
		api.FromError(w, err)
		return
	}

	def := defaultTopLimit
	if req.Kind == string(repository.DiscoverClassified) {
		def = defaultClassifiedLimit
	}
	limit, err := intQuery(r, "limit", def, maxDiscoverLimit)
	if err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	prompts, err := h.store.DiscoverPrompts(r.Context(), repository.DiscoverQuery{
		UserID:   user,
		Kind:     repository.DiscoverKind(req.Kind),
		Tier:     req.Tier,
		Category: req.Category,
		Limit:    limit,
	})
	if err != nil {
		h.logger.Error("discover failed",
			zap.String("user_id", user),
			zap.String("kind", req.Kind),
			zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, prompts)
}

// BackfillEmbeddings handles POST /api/prompts/embeddings/backfill.
func (h *AnalysisHandler) BackfillEmbeddings(w http.ResponseWriter, r *http.Request) {
	if h.similarity == nil {
		api.Error(w, http.StatusServiceUnavailable, "similarity search is not configured")
		return
	}

	var req BackfillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	result, err := h.similarity.BackfillEmbeddings(r.Context(), user, req.BatchSize)
	if err != nil {
		h.logger.Error("embedding backfill failed", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, result)
}
