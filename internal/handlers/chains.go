package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/chain"
	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/export"
	"github.com/dodge1218/prompt-intelligence/pkg/api"
)

// ChainLister reads stored chains.
type ChainLister interface {
	ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error)
}

// ChainHandler serves chain detection, listing and export.
type ChainHandler struct {
	detector chain.Detector
	chains   ChainLister
	logger   *zap.Logger
	now      func() time.Time
}

// NewChainHandler creates a chain handler.
func NewChainHandler(detector chain.Detector, chains ChainLister, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{
		detector: detector,
		chains:   chains,
		logger:   logger,
		now:      time.Now,
	}
}

// DetectChainsRequest is the optional body of POST /api/chains/detect.
type DetectChainsRequest struct {
	LookbackHours int `json:"lookbackHours,omitempty" validate:"omitempty,min=1,max=720"`
}

// DetectChains handles POST /api/chains/detect.
func (h *ChainHandler) DetectChains(w http.ResponseWriter, r *http.Request) {
	var req DetectChainsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	lookback := time.Duration(req.LookbackHours) * time.Hour
	result, err := h.detector.DetectAndPersistChains(r.Context(), user, lookback)
	if err != nil {
		h.logger.Error("chain detection failed", zap.String("user_id", user), zap.Error(err))
		if apperrors.IsValidation(err) {
			api.FromError(w, err)
			return
		}
		api.Error(w, apperrors.HTTPStatus(err), "chain processing failed")
		return
	}

	api.Success(w, http.StatusOK, result)
}

// ListChains handles GET /api/chains.
func (h *ChainHandler) ListChains(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	chains, err := h.chains.ListChains(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to list chains", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, chains)
}

// ExportChains handles GET /api/chains/export?format=csv|json. An empty CSV
// export answers 204.
func (h *ChainHandler) ExportChains(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.FromError(w, err)
		return
	}
	user, ok := userID(w, r)
	if !ok {
		return
	}

	chains, err := h.chains.ListChains(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to export chains", zap.String("user_id", user), zap.Error(err))
		api.FromError(w, err)
		return
	}

	var body []byte
	switch format {
	case export.FormatCSV:
		body = export.ChainsCSV(chains)
		if body == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	default:
		if body, err = export.JSON(chains); err != nil {
			api.FromError(w, err)
			return
		}
	}

	api.Attachment(w, format.ContentType(), export.ChainFilename(format, h.now()), body)
}
