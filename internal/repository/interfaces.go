// Package repository defines the storage contracts used by chain detection,
// scoring and similarity search. Adapters live in the memory, supabase and
// ddb subpackages and map rows to domain records before returning them.
package repository

import (
	"context"
	"time"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

// CandidateQuery selects a user's prompts that are not linked to a chain and
// were created at or after Since.
type CandidateQuery struct {
	UserID string
	Since  time.Time
}

// SimilarityQuery asks for the closest stored prompts to Embedding.
type SimilarityQuery struct {
	UserID    string
	Embedding []float64
	Threshold float64
	Limit     int
}

// PromptReader fetches chain detection candidates.
type PromptReader interface {
	// FindUnchainedPrompts returns matching prompts ordered ascending by
	// CreatedAt.
	FindUnchainedPrompts(ctx context.Context, query CandidateQuery) ([]domain.PromptRecord, error)
}

// ChainWriter persists chains and their prompt back-references.
type ChainWriter interface {
	// InsertChain stores record and returns it with its generated ID. When
	// record carries an idempotency key already used by the same user the
	// returned error satisfies errors.IsConflict.
	InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error)
	// LinkPrompts sets the chain back-reference on every prompt. Applying
	// the same linkage twice is a no-op.
	LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error
}

// ChainReader reads persisted chains.
type ChainReader interface {
	// ListChains returns the user's chains, newest first.
	ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error)
	FindChainByIdempotencyKey(ctx context.Context, userID, key string) (*domain.ChainRecord, error)
}

// ChainRepository combines chain reads and writes.
type ChainRepository interface {
	ChainWriter
	ChainReader
}

// DiscoverKind selects a discover view.
type DiscoverKind string

const (
	// DiscoverNovel ranks by ICE idea score.
	DiscoverNovel DiscoverKind = "novel"
	// DiscoverExploitable ranks by ICE exploitability score.
	DiscoverExploitable DiscoverKind = "exploitable"
	// DiscoverClassified filters by PIE tier and primary category, newest first.
	DiscoverClassified DiscoverKind = "classified"
)

// DiscoverQuery selects prompts for a discover view. Tier and Category only
// apply to DiscoverClassified; zero values match everything.
type DiscoverQuery struct {
	UserID   string
	Kind     DiscoverKind
	Tier     int
	Category string
	Limit    int
}

// AnalysisRepository stores scored prompts and answers similarity queries.
type AnalysisRepository interface {
	SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error
	// ListAnalyses returns up to limit analyses, newest first.
	ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error)
	// DeleteAnalysis removes one of the user's analyses. A missing analysis
	// satisfies errors.IsNotFound.
	DeleteAnalysis(ctx context.Context, userID, analysisID string) error
	// DeleteAllAnalyses removes the user's history and reports how many
	// analyses were deleted.
	DeleteAllAnalyses(ctx context.Context, userID string) (int, error)
	// FindSimilarPrompts returns matches with similarity >= Threshold,
	// highest similarity first.
	FindSimilarPrompts(ctx context.Context, query SimilarityQuery) ([]domain.SimilarPrompt, error)
	DiscoverPrompts(ctx context.Context, query DiscoverQuery) ([]domain.DiscoveredPrompt, error)
}

// EmbeddingRepository supports filling in embeddings for prompts saved
// without one.
type EmbeddingRepository interface {
	// FindUnembeddedPrompts returns up to limit of the user's prompts that
	// have no embedding, oldest first.
	FindUnembeddedPrompts(ctx context.Context, userID string, limit int) ([]domain.PromptRecord, error)
	SetEmbedding(ctx context.Context, userID, promptID string, embedding []float64) error
}

// Store is implemented by every storage adapter.
type Store interface {
	PromptReader
	ChainRepository
	AnalysisRepository
	EmbeddingRepository
}
