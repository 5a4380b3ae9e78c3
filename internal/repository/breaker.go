package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// BreakerConfig holds configuration for the storage circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used for storage calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerStore guards a Store with a circuit breaker. Caller errors
// (validation, not found, conflict) do not count as failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				apperrors.IsValidation(err) ||
				apperrors.IsNotFound(err) ||
				apperrors.IsConflict(err)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// State reports the breaker state, for health checks.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.Unavailable(apperrors.CodeCircuitOpen, "storage temporarily unavailable").
			WithOperation(op).
			WithCause(err).
			Build()
	}
	return result, err
}

func (s *BreakerStore) FindUnchainedPrompts(ctx context.Context, query CandidateQuery) ([]domain.PromptRecord, error) {
	result, err := s.execute("FindUnchainedPrompts", func() (interface{}, error) {
		return s.next.FindUnchainedPrompts(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.PromptRecord), nil
}

func (s *BreakerStore) InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error) {
	result, err := s.execute("InsertChain", func() (interface{}, error) {
		return s.next.InsertChain(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ChainRecord), nil
}

func (s *BreakerStore) LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error {
	_, err := s.execute("LinkPrompts", func() (interface{}, error) {
		return nil, s.next.LinkPrompts(ctx, userID, chainID, promptIDs)
	})
	return err
}

func (s *BreakerStore) ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error) {
	result, err := s.execute("ListChains", func() (interface{}, error) {
		return s.next.ListChains(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.ChainRecord), nil
}

func (s *BreakerStore) FindChainByIdempotencyKey(ctx context.Context, userID, key string) (*domain.ChainRecord, error) {
	result, err := s.execute("FindChainByIdempotencyKey", func() (interface{}, error) {
		return s.next.FindChainByIdempotencyKey(ctx, userID, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ChainRecord), nil
}

func (s *BreakerStore) SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error {
	_, err := s.execute("SaveAnalysis", func() (interface{}, error) {
		return nil, s.next.SaveAnalysis(ctx, analysis)
	})
	return err
}

func (s *BreakerStore) ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error) {
	result, err := s.execute("ListAnalyses", func() (interface{}, error) {
		return s.next.ListAnalyses(ctx, userID, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.PromptAnalysis), nil
}

func (s *BreakerStore) FindSimilarPrompts(ctx context.Context, query SimilarityQuery) ([]domain.SimilarPrompt, error) {
	result, err := s.execute("FindSimilarPrompts", func() (interface{}, error) {
		return s.next.FindSimilarPrompts(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.SimilarPrompt), nil
}

func (s *BreakerStore) DeleteAnalysis(ctx context.Context, userID, analysisID string) error {
	_, err := s.execute("DeleteAnalysis", func() (interface{}, error) {
		return nil, s.next.DeleteAnalysis(ctx, userID, analysisID)
	})
	return err
}

func (s *BreakerStore) DeleteAllAnalyses(ctx context.Context, userID string) (int, error) {
	result, err := s.execute("DeleteAllAnalyses", func() (interface{}, error) {
		return s.next.DeleteAllAnalyses(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (s *BreakerStore) DiscoverPrompts(ctx context.Context, query DiscoverQuery) ([]domain.DiscoveredPrompt, error) {
	result, err := s.execute("DiscoverPrompts", func() (interface{}, error) {
		return s.next.DiscoverPrompts(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.DiscoveredPrompt), nil
}

func (s *BreakerStore) FindUnembeddedPrompts(ctx context.Context, userID string, limit int) ([]domain.PromptRecord, error) {
	result, err := s.execute("FindUnembeddedPrompts", func() (interface{}, error) {
		return s.next.FindUnembeddedPrompts(ctx, userID, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.PromptRecord), nil
}

func (s *BreakerStore) SetEmbedding(ctx context.Context, userID, promptID string, embedding []float64) error {
	_, err := s.execute("SetEmbedding", func() (interface{}, error) {
		return nil, s.next.SetEmbedding(ctx, userID, promptID, embedding)
	})
	return err
}
