// Package scoring rates prompts on the ICE and PIE frameworks with an LLM.
package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// Recorder receives scoring metrics.
type Recorder interface {
	RecordAnalysis(model string, err error)
	ObserveLLM(provider string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordAnalysis(string, error)     {}
func (noopRecorder) ObserveLLM(string, time.Duration) {}

// Scorer analyzes prompts.
type Scorer struct {
	providers    map[string]Provider
	defaultModel string
	timeout      time.Duration
	logger       *zap.Logger
	recorder     Recorder
	now          func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithProvider registers a provider under its name.
func WithProvider(p Provider) Option {
	return func(s *Scorer) {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scorer) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) { s.timeout = d }
}

// NewScorer creates a scorer. defaultModel is used when a request names none.
func NewScorer(defaultModel string, logger *zap.Logger, opts ...Option) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	s := &Scorer{
		providers:    make(map[string]Provider),
		defaultModel: defaultModel,
		logger:       logger,
		recorder:     noopRecorder{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GeminiConfigured reports whether Gemini models can be used.
func (s *Scorer) GeminiConfigured() bool {
	_, ok := s.providers[ProviderGemini]
	return ok
}

// Models returns the models this scorer can serve.
func (s *Scorer) Models() []Model {
	return AvailableModels(s.GeminiConfigured())
}

// Analyze scores prompt with model and returns an unsaved analysis.
func (s *Scorer) Analyze(ctx context.Context, prompt, model string) (*domain.PromptAnalysis, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperrors.Validation(apperrors.CodePromptEmpty, "prompt is required").Build()
	}
	if model == "" {
		model = s.defaultModel
	}
	if _, err := LookupModel(model); err != nil {
		return nil, err
	}

	providerName := ProviderFor(model)
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeUnknownModel, "model is not configured").
			WithDetails(model).
			Build()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	raw, err := provider.CompleteJSON(ctx, model, BuildRubric(prompt))
	elapsed := s.now().Sub(start)
	s.recorder.ObserveLLM(providerName, elapsed)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = providerError(providerName, err)
		}
		s.recorder.RecordAnalysis(model, err)
		s.logger.Warn("prompt analysis failed",
			zap.String("model", model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	ice, pie, suggestions, err := parseRubric(raw)
	s.recorder.RecordAnalysis(model, err)
	if err != nil {
		s.logger.Warn("model returned invalid analysis", zap.String("model", model), zap.Error(err))
		return nil, err
	}

	return &domain.PromptAnalysis{
		ID:                uuid.NewString(),
		Prompt:            prompt,
		CreatedAt:         s.now().UTC(),
		ICEScore:          ice,
		PIEClassification: pie,
		Suggestions:       suggestions,
		TokenCount:        EstimateTokens(prompt),
		ModelVersion:      model + "-v1",
		ResponseTimeMs:    elapsed.Milliseconds(),
	}, nil
}

// roundHalfUp rounds like JavaScript's Math.round.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
