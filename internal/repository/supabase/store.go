// Package supabase implements the repository interfaces on Supabase's PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

const (
	tableAnalyses = "prompt_analyses"
	tableChains   = "prompt_chains"

	rpcFindSimilar      = "find_similar_prompts"
	rpcTopNovel         = "get_top_novel_prompts"
	rpcTopExploitable   = "get_top_exploitable_prompts"
	rpcByClassification = "get_prompts_by_classification"

	pgUniqueViolation = "23505"
	pgrstNoRows       = "PGRST116"
)

// Client is the part of *supabase.Client the store uses.
type Client interface {
	From(table string) *postgrest.QueryBuilder
	Rpc(name, count string, rpcBody interface{}) string
}

// Store is a repository.Store backed by the prompt_analyses and prompt_chains tables.
type Store struct {
	client Client
	logger *zap.Logger
}

// NewStore creates a Supabase-backed store.
func NewStore(client Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

var _ repository.Store = (*Store)(nil)

// ============================================================================
// PROMPT READER
// ============================================================================

// FindUnchainedPrompts returns the user's prompts with no chain created at or
// after q.Since, oldest first.
func (s *Store) FindUnchainedPrompts(ctx context.Context, q repository.CandidateQuery) ([]domain.PromptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := s.client.From(tableAnalyses).
		Select("id,prompt,created_at", "", false).
		Eq("user_id", q.UserID).
		Is("chain_id", "null")
	if !q.Since.IsZero() {
		filter = filter.Gte("created_at", formatTime(q.Since))
	}

	var rows []domain.PromptRecord
	if _, err := filter.Order("created_at", &postgrest.OrderOpts{Ascending: true}).ExecuteTo(&rows); err != nil {
		return nil, classify(err, "supabase.FindUnchainedPrompts", "failed to fetch unchained prompts")
	}
	if rows == nil {
		rows = []domain.PromptRecord{}
	}
	return rows, nil
}

// ============================================================================
// CHAIN WRITER
// ============================================================================

// InsertChain inserts a chain row and returns it with the generated id.
func (s *Store) InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := record
	row.ID = ""

	var inserted []domain.ChainRecord
	_, err := s.client.From(tableChains).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, classify(err, "supabase.InsertChain", "failed to insert chain")
	}
	if len(inserted) == 0 || inserted[0].ID == "" {
		return nil, apperrors.Internal(apperrors.CodeChainInsertFailed, "insert returned no chain id").
			WithOperation("supabase.InsertChain").
			WithUserID(record.UserID).
			Build()
	}

	s.logger.Debug("chain inserted",
		zap.String("user_id", record.UserID),
		zap.String("chain_id", inserted[0].ID),
		zap.Int("prompt_count", record.PromptCount))
	return &inserted[0], nil
}

// LinkPrompts sets chain_id on the given prompts.
func (s *Store) LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(promptIDs) == 0 {
		return nil
	}

	_, _, err := s.client.From(tableAnalyses).
		Update(map[string]string{"chain_id": chainID}, "minimal", "").
		Eq("user_id", userID).
		In("id", promptIDs).
		Execute()
	if err != nil {
		return classify(err, "supabase.LinkPrompts", "failed to link prompts to chain")
	}
	return nil
}

// ============================================================================
// CHAIN READER
// ============================================================================

// ListChains returns the user's chains, newest first.
func (s *Store) ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chains []domain.ChainRecord
	_, err := s.client.From(tableChains).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("start_timestamp", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&chains)
	if err != nil {
		return nil, classify(err, "supabase.ListChains", "failed to list chains")
	}
	if chains == nil {
		chains = []domain.ChainRecord{}
	}
	return chains, nil
}

// FindChainByIdempotencyKey returns the chain previously inserted with key.
func (s *Store) FindChainByIdempotencyKey(ctx context.Context, userID, key string) (*domain.ChainRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chains []domain.ChainRecord
	_, err := s.client.From(tableChains).
		Select("*", "", false).
		Eq("user_id", userID).
		Eq("idempotency_key", key).
		Limit(1, "").
		ExecuteTo(&chains)
	if err != nil {
		return nil, classify(err, "supabase.FindChainByIdempotencyKey", "failed to find chain")
	}
	if len(chains) == 0 {
		return nil, apperrors.NotFound(apperrors.CodeChainNotFound, "chain not found").
			WithOperation("supabase.FindChainByIdempotencyKey").
			WithUserID(userID).
			Build()
	}
	return &chains[0], nil
}

// ============================================================================
// ANALYSIS REPOSITORY
// ============================================================================

// SaveAnalysis inserts a scored prompt. The embedding is stored when present.
func (s *Store) SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var inserted []analysisRow
	_, err := s.client.From(tableAnalyses).
		Insert(toAnalysisRow(analysis), false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return classify(err, "supabase.SaveAnalysis", "failed to save analysis")
	}
	if len(inserted) > 0 {
		analysis.ID = inserted[0].ID
		if inserted[0].CreatedAt != nil {
			analysis.CreatedAt = *inserted[0].CreatedAt
		}
	}
	return nil
}

// ListAnalyses returns the user's analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := s.client.From(tableAnalyses).
		Select(analysisColumns, "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		filter = filter.Limit(limit, "")
	}

	var rows []analysisRow
	if _, err := filter.ExecuteTo(&rows); err != nil {
		return nil, classify(err, "supabase.ListAnalyses", "failed to list analyses")
	}

	analyses := make([]domain.PromptAnalysis, 0, len(rows))
	for _, row := range rows {
		analyses = append(analyses, row.toDomain())
	}
	return analyses, nil
}

// FindSimilarPrompts runs the find_similar_prompts vector search function.
func (s *Store) FindSimilarPrompts(ctx context.Context, q repository.SimilarityQuery) ([]domain.SimilarPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := s.client.Rpc(rpcFindSimilar, "", map[string]interface{}{
		"query_embedding": q.Embedding,
		"match_threshold": q.Threshold,
		"match_count":     q.Limit,
		"filter_user_id":  q.UserID,
	})
	return decodeSimilar(body)
}

// DeleteAnalysis removes one of the user's analyses.
func (s *Store) DeleteAnalysis(ctx context.Context, userID, analysisID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var deleted []idRow
	_, err := s.client.From(tableAnalyses).
		Delete("representation", "").
		Eq("user_id", userID).
		Eq("id", analysisID).
		ExecuteTo(&deleted)
	if err != nil {
		return classify(err, "supabase.DeleteAnalysis", "failed to delete analysis")
	}
	if len(deleted) == 0 {
		return analysisNotFound("supabase.DeleteAnalysis", userID)
	}
	return nil
}

// DeleteAllAnalyses removes the user's whole history.
func (s *Store) DeleteAllAnalyses(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted []idRow
	_, err := s.client.From(tableAnalyses).
		Delete("representation", "").
		Eq("user_id", userID).
		ExecuteTo(&deleted)
	if err != nil {
		return 0, classify(err, "supabase.DeleteAllAnalyses", "failed to delete history")
	}

	s.logger.Info("analysis history deleted",
		zap.String("user_id", userID),
		zap.Int("deleted", len(deleted)))
	return len(deleted), nil
}

// DiscoverPrompts runs the discover function matching q.Kind.
func (s *Store) DiscoverPrompts(ctx context.Context, q repository.DiscoverQuery) ([]domain.DiscoveredPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		name string
		args = map[string]interface{}{
			"user_uuid":   q.UserID,
			"limit_count": q.Limit,
		}
	)
	switch q.Kind {
	case repository.DiscoverNovel:
		name = rpcTopNovel
	case repository.DiscoverExploitable:
		name = rpcTopExploitable
	case repository.DiscoverClassified:
		name = rpcByClassification
		args["target_tier"] = nil
		if q.Tier != 0 {
			args["target_tier"] = q.Tier
		}
		args["target_category"] = nil
		if q.Category != "" {
			args["target_category"] = q.Category
		}
	default:
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "unknown discover kind").
			WithDetails(string(q.Kind)).
			Build()
	}

	var rows []domain.DiscoveredPrompt
	if err := decodeRPC(s.client.Rpc(name, "", args), "supabase.DiscoverPrompts", "discover", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.DiscoveredPrompt{}
	}
	return rows, nil
}

// ============================================================================
// EMBEDDING REPOSITORY
// ============================================================================

// FindUnembeddedPrompts returns the user's prompts with a null
// vector_embedding, oldest first.
func (s *Store) FindUnembeddedPrompts(ctx context.Context, userID string, limit int) ([]domain.PromptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := s.client.From(tableAnalyses).
		Select("id,prompt,created_at", "", false).
		Eq("user_id", userID).
		Is("vector_embedding", "null").
		Order("created_at", &postgrest.OrderOpts{Ascending: true})
	if limit > 0 {
		filter = filter.Limit(limit, "")
	}

	var rows []domain.PromptRecord
	if _, err := filter.ExecuteTo(&rows); err != nil {
		return nil, classify(err, "supabase.FindUnembeddedPrompts", "failed to fetch prompts for backfill")
	}
	if rows == nil {
		rows = []domain.PromptRecord{}
	}
	return rows, nil
}

// SetEmbedding stores the embedding of one prompt.
func (s *Store) SetEmbedding(ctx context.Context, userID, promptID string, embedding []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var updated []idRow
	_, err := s.client.From(tableAnalyses).
		Update(map[string]interface{}{"vector_embedding": embedding}, "representation", "").
		Eq("user_id", userID).
		Eq("id", promptID).
		ExecuteTo(&updated)
	if err != nil {
		return classify(err, "supabase.SetEmbedding", "failed to update embedding")
	}
	if len(updated) == 0 {
		return analysisNotFound("supabase.SetEmbedding", userID)
	}
	return nil
}

type idRow struct {
	ID string `json:"id"`
}

func analysisNotFound(operation, userID string) error {
	return apperrors.NotFound(apperrors.CodeAnalysisNotFound, "analysis not found").
		WithOperation(operation).
		WithUserID(userID).
		Build()
}

// decodeSimilar parses a find_similar_prompts response body.
func decodeSimilar(body string) ([]domain.SimilarPrompt, error) {
	var similar []domain.SimilarPrompt
	if err := decodeRPC(body, "supabase.FindSimilarPrompts", "similarity search", &similar); err != nil {
		return nil, err
	}
	if similar == nil {
		similar = []domain.SimilarPrompt{}
	}
	return similar, nil
}

// decodeRPC parses an RPC response body into dst. The client returns error
// payloads in the body, so both shapes are checked.
func decodeRPC(body, operation, what string, dst interface{}) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return apperrors.External(apperrors.CodeSupabaseError, "empty response from "+what).
			WithOperation(operation).
			Build()
	}

	if strings.HasPrefix(trimmed, "{") {
		var pgErr rpcError
		if err := json.Unmarshal([]byte(trimmed), &pgErr); err == nil && pgErr.Message != "" {
			return apperrors.External(apperrors.CodeSupabaseError, what+" failed").
				WithOperation(operation).
				WithDetails("(" + pgErr.Code + ") " + pgErr.Message).
				Build()
		}
	}

	if err := json.Unmarshal([]byte(trimmed), dst); err != nil {
		return apperrors.External(apperrors.CodeSupabaseError, "invalid "+what+" response").
			WithOperation(operation).
			WithCause(err).
			Build()
	}
	return nil
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// classify maps postgrest errors, formatted as "(code) message", onto AppErrors.
func classify(err error, operation, message string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "("+pgUniqueViolation+")"):
		return apperrors.Conflict(apperrors.CodeIdempotencyConflict, message).
			WithOperation(operation).
			WithDetails(msg).
			WithCause(err).
			Build()
	case strings.Contains(msg, "("+pgrstNoRows+")"):
		return apperrors.NotFound(apperrors.CodeChainNotFound, message).
			WithOperation(operation).
			WithCause(err).
			Build()
	default:
		return apperrors.External(apperrors.CodeSupabaseError, message).
			WithOperation(operation).
			WithDetails(msg).
			WithCause(err).
			Build()
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
