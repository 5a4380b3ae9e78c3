package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

// Run outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// Recorder receives per-run counters.
type Recorder interface {
	RecordDetectionRun(outcome string, duration time.Duration)
	RecordChains(result DetectionResult)
}

type noopRecorder struct{}

func (noopRecorder) RecordDetectionRun(string, time.Duration) {}
func (noopRecorder) RecordChains(DetectionResult)             {}

// DetectionResult summarizes one detection run. ChainsDetected counts chain
// records whose insert succeeded, whether or not their prompts were linked.
type DetectionResult struct {
	ChainsDetected int `json:"chainsDetected"`
	InsertFailures int `json:"insertFailures"`
	LinkFailures   int `json:"linkFailures"`
	Relinked       int `json:"relinked"`
}

// Detector is the chain detection entry point used by handlers and the
// event consumer.
type Detector interface {
	DetectAndPersistChains(ctx context.Context, userID string, lookback time.Duration) (*DetectionResult, error)
}

// Store is the storage the orchestrator needs.
type Store interface {
	repository.PromptReader
	repository.ChainRepository
}

// Orchestrator fetches a user's unlinked prompts, segments them into
// sessions, and persists one chain per session.
type Orchestrator struct {
	store    Store
	analyzer *Analyzer
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
	locks    *userLocks
	now      func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithAnalyzer(a *Analyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store Store, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:    store,
		analyzer: NewAnalyzer(),
		logger:   logger,
		recorder: noopRecorder{},
		tracer:   otel.Tracer("github.com/dodge1218/prompt-intelligence/internal/chain"),
		locks:    newUserLocks(),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdateConfig replaces the configuration used by later runs.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg.withDefaults()
}

// Config returns the configuration currently in effect.
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// DetectAndPersistChains runs chain detection for one user. A lookback of
// zero uses the configured default. Only a failure to fetch candidates is
// returned as an error; per-chain insert and link failures are logged and
// reflected in the result counters.
func (o *Orchestrator) DetectAndPersistChains(ctx context.Context, userID string, lookback time.Duration) (*DetectionResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.Validation(apperrors.CodeMissingField, "user id is required").Build()
	}

	cfg := o.Config()
	if lookback <= 0 {
		lookback = cfg.Lookback
	}

	ctx, span := o.tracer.Start(ctx, "chain.DetectAndPersistChains",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	start := o.now()
	unlock, err := o.locks.acquire(ctx, userID)
	if err != nil {
		o.recorder.RecordDetectionRun(OutcomeFailed, o.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "waiting for user lock")
		return nil, apperrors.Timeout(apperrors.CodeTimeout, "chain processing failed").
			WithOperation("DetectAndPersistChains").
			WithUserID(userID).
			WithCause(err).
			Build()
	}
	defer unlock()

	candidates, err := o.store.FindUnchainedPrompts(ctx, repository.CandidateQuery{
		UserID: userID,
		Since:  o.now().Add(-lookback),
	})
	if err != nil {
		o.recorder.RecordDetectionRun(OutcomeFailed, o.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch candidates")
		o.logger.Error("chain processing failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, apperrors.Wrap(err, "DetectAndPersistChains", "chain processing failed")
	}

	if len(candidates) == 0 {
		o.recorder.RecordDetectionRun(OutcomeEmpty, o.now().Sub(start))
		return &DetectionResult{}, nil
	}

	sessions := Segment(candidates, cfg.ThresholdMinutes)
	outcomes := make([]persistOutcome, len(sessions))

	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrentPersists)
	for i, session := range sessions {
		g.Go(func() error {
			outcomes[i] = o.persist(ctx, userID, session, cfg.ReuseOnConflict)
			return nil
		})
	}
	_ = g.Wait()

	result := summarize(outcomes)
	span.SetAttributes(
		attribute.Int("chain.candidates", len(candidates)),
		attribute.Int("chain.sessions", len(sessions)),
		attribute.Int("chain.detected", result.ChainsDetected),
		attribute.Int("chain.insert_failures", result.InsertFailures),
		attribute.Int("chain.link_failures", result.LinkFailures),
	)
	o.recorder.RecordChains(*result)
	o.recorder.RecordDetectionRun(OutcomeSuccess, o.now().Sub(start))

	o.logger.Info("chain detection completed",
		zap.String("user_id", userID),
		zap.Int("candidates", len(candidates)),
		zap.Int("sessions", len(sessions)),
		zap.Int("chains_detected", result.ChainsDetected),
		zap.Int("insert_failures", result.InsertFailures),
		zap.Int("link_failures", result.LinkFailures),
		zap.Int("relinked", result.Relinked))

	return result, nil
}

type persistOutcome int

const (
	outcomeInserted persistOutcome = iota
	outcomeInsertedUnlinked
	outcomeInsertFailed
	outcomeRelinked
	outcomeRelinkFailed
)

// persist inserts the chain for one session and then links its prompts.
func (o *Orchestrator) persist(ctx context.Context, userID string, session domain.Session, reuse bool) persistOutcome {
	record := domain.NewChainRecord(userID, session, o.analyzer.Analyze(session))
	promptIDs := session.PromptIDs()
	if reuse {
		record.IdempotencyKey = IdempotencyKey(userID, promptIDs)
	}

	saved, err := o.store.InsertChain(ctx, record)
	if err != nil {
		if reuse && apperrors.IsConflict(err) {
			return o.relink(ctx, userID, record.IdempotencyKey, promptIDs)
		}
		o.logger.Warn("chain insert failed",
			zap.String("user_id", userID),
			zap.Int("prompt_count", len(promptIDs)),
			zap.Time("start", session.StartTime),
			zap.Error(err))
		return outcomeInsertFailed
	}

	if err := o.store.LinkPrompts(ctx, userID, saved.ID, promptIDs); err != nil {
		o.logger.Warn("linking prompts to chain failed",
			zap.String("user_id", userID),
			zap.String("chain_id", saved.ID),
			zap.Int("prompt_count", len(promptIDs)),
			zap.Error(err))
		return outcomeInsertedUnlinked
	}
	return outcomeInserted
}

// relink completes the linkage of a chain inserted by an earlier run.
func (o *Orchestrator) relink(ctx context.Context, userID, key string, promptIDs []string) persistOutcome {
	existing, err := o.store.FindChainByIdempotencyKey(ctx, userID, key)
	if err != nil {
		o.logger.Warn("existing chain lookup failed",
			zap.String("user_id", userID),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return outcomeInsertFailed
	}
	if err := o.store.LinkPrompts(ctx, userID, existing.ID, promptIDs); err != nil {
		o.logger.Warn("relinking prompts to existing chain failed",
			zap.String("user_id", userID),
			zap.String("chain_id", existing.ID),
			zap.Int("prompt_count", len(promptIDs)),
			zap.Error(err))
		return outcomeRelinkFailed
	}
	return outcomeRelinked
}

func summarize(outcomes []persistOutcome) *DetectionResult {
	result := &DetectionResult{}
	for _, outcome := range outcomes {
		switch outcome {
		case outcomeInserted:
			result.ChainsDetected++
		case outcomeInsertedUnlinked:
			result.ChainsDetected++
			result.LinkFailures++
		case outcomeInsertFailed:
			result.InsertFailures++
		case outcomeRelinked:
			result.Relinked++
		case outcomeRelinkFailed:
			result.LinkFailures++
		}
	}
	return result
}

// IdempotencyKey derives a stable key from a user and the ordered prompt IDs
// of a session.
func IdempotencyKey(userID string, promptIDs []string) string {
	name := userID + "\x00" + strings.Join(promptIDs, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
