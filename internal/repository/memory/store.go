// Package memory provides an in-memory Store used for local development and
// as the storage double in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps analyses and chains per user.
type Store struct {
	mu sync.RWMutex

	analyses map[string][]*domain.PromptAnalysis // userID -> analyses in insertion order
	chains   map[string][]domain.ChainRecord     // userID -> chains in insertion order
	keys     map[string]string                   // userID + key -> chainID

	calls        map[string]int
	shouldFailOn map[string]error
	now          func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		analyses:     make(map[string][]*domain.PromptAnalysis),
		chains:       make(map[string][]domain.ChainRecord),
		keys:         make(map[string]string),
		calls:        make(map[string]int),
		shouldFailOn: make(map[string]error),
		now:          time.Now,
	}
}

// SetError makes every later call of method fail with err.
func (s *Store) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn[method] = err
}

// ClearErrors removes all configured errors.
func (s *Store) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn = make(map[string]error)
}

// Calls returns how many times method was invoked, failed calls included.
func (s *Store) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

// AddPrompt stores a bare prompt as an unscored analysis.
func (s *Store) AddPrompt(userID string, prompt domain.PromptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[userID] = append(s.analyses[userID], &domain.PromptAnalysis{
		ID:        prompt.ID,
		UserID:    userID,
		Prompt:    prompt.PromptText,
		CreatedAt: prompt.CreatedAt,
	})
}

// ChainIDOf returns the chain a prompt is linked to, or "".
func (s *Store) ChainIDOf(userID, promptID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.analyses[userID] {
		if a.ID == promptID {
			return a.ChainID
		}
	}
	return ""
}

// begin records the call and returns the configured failure, if any. The
// caller must hold the lock.
func (s *Store) begin(method string) error {
	s.calls[method]++
	return s.shouldFailOn[method]
}

func (s *Store) FindUnchainedPrompts(ctx context.Context, query repository.CandidateQuery) ([]domain.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindUnchainedPrompts"); err != nil {
		return nil, err
	}

	prompts := []domain.PromptRecord{}
	for _, a := range s.analyses[query.UserID] {
		if a.ChainID != "" || a.CreatedAt.Before(query.Since) {
			continue
		}
		prompts = append(prompts, domain.PromptRecord{ID: a.ID, PromptText: a.Prompt, CreatedAt: a.CreatedAt})
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	return prompts, nil
}

func (s *Store) InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertChain"); err != nil {
		return nil, err
	}

	if record.IdempotencyKey != "" {
		if _, exists := s.keys[record.UserID+"#"+record.IdempotencyKey]; exists {
			return nil, apperrors.Conflict(apperrors.CodeIdempotencyConflict, "chain already exists for idempotency key").
				WithUserID(record.UserID).
				Build()
		}
	}

	record.ID = uuid.NewString()
	s.chains[record.UserID] = append(s.chains[record.UserID], record)
	if record.IdempotencyKey != "" {
		s.keys[record.UserID+"#"+record.IdempotencyKey] = record.ID
	}
	saved := record
	return &saved, nil
}

func (s *Store) LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("LinkPrompts"); err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(promptIDs))
	for _, id := range promptIDs {
		ids[id] = struct{}{}
	}
	for _, a := range s.analyses[userID] {
		if _, ok := ids[a.ID]; ok {
			a.ChainID = chainID
		}
	}
	return nil
}

func (s *Store) ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("ListChains"); err != nil {
		return nil, err
	}

	chains := make([]domain.ChainRecord, len(s.chains[userID]))
	copy(chains, s.chains[userID])
	sort.SliceStable(chains, func(i, j int) bool {
		return chains[i].StartTimestamp.After(chains[j].StartTimestamp)
	})
	return chains, nil
}

func (s *Store) FindChainByIdempotencyKey(ctx context.Context, userID, key string) (*domain.ChainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindChainByIdempotencyKey"); err != nil {
		return nil, err
	}

	if chainID, ok := s.keys[userID+"#"+key]; ok {
		for _, c := range s.chains[userID] {
			if c.ID == chainID {
				found := c
				return &found, nil
			}
		}
	}
	return nil, apperrors.NotFound(apperrors.CodeChainNotFound, "chain not found").WithUserID(userID).Build()
}

func (s *Store) SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("SaveAnalysis"); err != nil {
		return err
	}

	saved := *analysis
	if saved.ID == "" {
		saved.ID = uuid.NewString()
		analysis.ID = saved.ID
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now().UTC()
		analysis.CreatedAt = saved.CreatedAt
	}
	s.analyses[saved.UserID] = append(s.analyses[saved.UserID], &saved)
	return nil
}

func (s *Store) ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("ListAnalyses"); err != nil {
		return nil, err
	}

	analyses := make([]domain.PromptAnalysis, 0, len(s.analyses[userID]))
	for _, a := range s.analyses[userID] {
		analyses = append(analyses, *a)
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})
	if limit > 0 && len(analyses) > limit {
		analyses = analyses[:limit]
	}
	return analyses, nil
}

func (s *Store) FindSimilarPrompts(ctx context.Context, query repository.SimilarityQuery) ([]domain.SimilarPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindSimilarPrompts"); err != nil {
		return nil, err
	}

	analyses := make([]domain.PromptAnalysis, 0, len(s.analyses[query.UserID]))
	for _, a := range s.analyses[query.UserID] {
		analyses = append(analyses, *a)
	}
	return repository.RankSimilar(analyses, query), nil
}

func (s *Store) DeleteAnalysis(ctx context.Context, userID, analysisID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("DeleteAnalysis"); err != nil {
		return err
	}

	analyses := s.analyses[userID]
	for i, a := range analyses {
		if a.ID == analysisID {
			s.analyses[userID] = append(analyses[:i:i], analyses[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound(apperrors.CodeAnalysisNotFound, "analysis not found").WithUserID(userID).Build()
}

func (s *Store) DeleteAllAnalyses(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("DeleteAllAnalyses"); err != nil {
		return 0, err
	}

	deleted := len(s.analyses[userID])
	delete(s.analyses, userID)
	return deleted, nil
}

func (s *Store) DiscoverPrompts(ctx context.Context, query repository.DiscoverQuery) ([]domain.DiscoveredPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("DiscoverPrompts"); err != nil {
		return nil, err
	}

	analyses := make([]domain.PromptAnalysis, 0, len(s.analyses[query.UserID]))
	for _, a := range s.analyses[query.UserID] {
		analyses = append(analyses, *a)
	}
	return repository.RankDiscover(analyses, query), nil
}

func (s *Store) FindUnembeddedPrompts(ctx context.Context, userID string, limit int) ([]domain.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindUnembeddedPrompts"); err != nil {
		return nil, err
	}

	prompts := []domain.PromptRecord{}
	for _, a := range s.analyses[userID] {
		if len(a.Embedding) == 0 {
			prompts = append(prompts, domain.PromptRecord{ID: a.ID, PromptText: a.Prompt, CreatedAt: a.CreatedAt})
		}
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	if limit > 0 && len(prompts) > limit {
		prompts = prompts[:limit]
	}
	return prompts, nil
}

func (s *Store) SetEmbedding(ctx context.Context, userID, promptID string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("SetEmbedding"); err != nil {
		return err
	}

	for _, a := range s.analyses[userID] {
		if a.ID == promptID {
			a.Embedding = append([]float64(nil), embedding...)
			return nil
		}
	}
	return apperrors.NotFound(apperrors.CodeAnalysisNotFound, "analysis not found").WithUserID(userID).Build()
}
