// Package similarity finds prompts a user has already written that resemble a
// new one.
package similarity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

const (
	DefaultThreshold          = 0.7
	DefaultDuplicateThreshold = 0.9
	DefaultLimit              = 10
	DefaultBackfillBatch      = 100
	MaxBackfillBatch          = 500
)

// Store runs vector searches over stored analyses and fills in missing
// embeddings.
type Store interface {
	FindSimilarPrompts(ctx context.Context, q repository.SimilarityQuery) ([]domain.SimilarPrompt, error)
	repository.EmbeddingRepository
}

// Recorder observes embedding latency.
type Recorder interface {
	ObserveLLM(provider string, d time.Duration)
}

// Config holds search defaults.
type Config struct {
	Threshold          float64
	DuplicateThreshold float64
	Limit              int
}

// Duplicate is the result of a duplicate check.
type Duplicate struct {
	IsDuplicate   bool                  `json:"isDuplicate"`
	SimilarPrompt *domain.SimilarPrompt `json:"similarPrompt,omitempty"`
	Similarity    float64               `json:"similarity,omitempty"`
}

// BackfillResult counts the outcome of one backfill batch.
type BackfillResult struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// Service embeds text and searches stored prompts.
type Service struct {
	embedder Embedder
	store    Store
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

// NewService creates a similarity service. recorder may be nil.
func NewService(embedder Embedder, store Store, cfg Config, logger *zap.Logger, recorder Recorder) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// Embed returns the embedding for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation(apperrors.CodePromptEmpty, "prompt is required").Build()
	}
	start := time.Now()
	embedding, err := s.embedder.Embed(ctx, text)
	if s.recorder != nil {
		s.recorder.ObserveLLM(s.embedder.Name(), time.Since(start))
	}
	return embedding, err
}

// FindSimilar returns the user's prompts closest to text. Zero threshold or
// limit selects the configured defaults.
func (s *Service) FindSimilar(ctx context.Context, userID, text string, threshold float64, limit int) ([]domain.SimilarPrompt, error) {
	if threshold <= 0 {
		threshold = s.cfg.Threshold
	}
	if limit <= 0 {
		limit = s.cfg.Limit
	}

	embedding, err := s.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.store.FindSimilarPrompts(ctx, repository.SimilarityQuery{
		UserID:    userID,
		Embedding: embedding,
		Threshold: threshold,
		Limit:     limit,
	})
}

// DetectDuplicate reports whether the user already wrote a near-identical
// prompt. Failures are logged and reported as not a duplicate.
func (s *Service) DetectDuplicate(ctx context.Context, userID, text string) Duplicate {
	return s.DetectDuplicateWithEmbedding(ctx, userID, text, nil)
}

// DetectDuplicateWithEmbedding is DetectDuplicate reusing an embedding the
// caller already computed. A nil embedding is computed here.
func (s *Service) DetectDuplicateWithEmbedding(ctx context.Context, userID, text string, embedding []float64) Duplicate {
	if embedding == nil {
		var err error
		embedding, err = s.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("duplicate check skipped", zap.String("user_id", userID), zap.Error(err))
			return Duplicate{}
		}
	}

	matches, err := s.store.FindSimilarPrompts(ctx, repository.SimilarityQuery{
		UserID:    userID,
		Embedding: embedding,
		Threshold: s.cfg.DuplicateThreshold,
		Limit:     1,
	})
	if err != nil {
		s.logger.Warn("duplicate check skipped", zap.String("user_id", userID), zap.Error(err))
		return Duplicate{}
	}
	if len(matches) == 0 || matches[0].Similarity < s.cfg.DuplicateThreshold {
		return Duplicate{}
	}

	best := matches[0]
	return Duplicate{IsDuplicate: true, SimilarPrompt: &best, Similarity: best.Similarity}
}

// BackfillEmbeddings embeds up to batchSize of the user's prompts that were
// saved without an embedding. Failures on single prompts are logged and
// counted; only a failure to list the batch is returned.
func (s *Service) BackfillEmbeddings(ctx context.Context, userID string, batchSize int) (*BackfillResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatch
	}
	if batchSize > MaxBackfillBatch {
		batchSize = MaxBackfillBatch
	}

	prompts, err := s.store.FindUnembeddedPrompts(ctx, userID, batchSize)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{Scanned: len(prompts)}
	for _, p := range prompts {
		if err := ctx.Err(); err != nil {
			return result, apperrors.Timeout(apperrors.CodeTimeout, "backfill interrupted").
				WithOperation("similarity.BackfillEmbeddings").
				WithUserID(userID).
				WithCause(err).
				Build()
		}

		embedding, err := s.Embed(ctx, p.PromptText)
		if err == nil {
			err = s.store.SetEmbedding(ctx, userID, p.ID, embedding)
		}
		if err != nil {
			result.Failed++
			s.logger.Warn("embedding backfill failed",
				zap.String("user_id", userID),
				zap.String("prompt_id", p.ID),
				zap.Error(err))
			continue
		}
		result.Embedded++
	}

	s.logger.Info("embedding backfill completed",
		zap.String("user_id", userID),
		zap.Int("scanned", result.Scanned),
		zap.Int("embedded", result.Embedded),
		zap.Int("failed", result.Failed))
	return result, nil
}
