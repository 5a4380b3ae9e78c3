package supabase

import (
	"time"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

const analysisColumns = "id,user_id,prompt,token_count,ice_idea,ice_cost,ice_exploitability,ice_overall," +
	"pie_tier,pie_primary_category,pie_secondary_categories,pie_reasoning,suggestions," +
	"model_version,response_time_ms,chain_id,created_at"

// analysisRow is the flat prompt_analyses column layout.
type analysisRow struct {
	ID                     string     `json:"id,omitempty"`
	UserID                 string     `json:"user_id"`
	Prompt                 string     `json:"prompt"`
	TokenCount             int        `json:"token_count"`
	ICEIdea                int        `json:"ice_idea"`
	ICECost                int        `json:"ice_cost"`
	ICEExploitability      int        `json:"ice_exploitability"`
	ICEOverall             int        `json:"ice_overall"`
	PIETier                int        `json:"pie_tier"`
	PIEPrimaryCategory     string     `json:"pie_primary_category"`
	PIESecondaryCategories []string   `json:"pie_secondary_categories"`
	PIEReasoning           string     `json:"pie_reasoning"`
	Suggestions            []string   `json:"suggestions"`
	ModelVersion           string     `json:"model_version,omitempty"`
	ResponseTimeMs         int64      `json:"response_time_ms"`
	ChainID                *string    `json:"chain_id,omitempty"`
	VectorEmbedding        []float64  `json:"vector_embedding,omitempty"`
	CreatedAt              *time.Time `json:"created_at,omitempty"`
}

func toAnalysisRow(a *domain.PromptAnalysis) analysisRow {
	secondary := make([]string, 0, len(a.PIEClassification.SecondaryCategories))
	for _, c := range a.PIEClassification.SecondaryCategories {
		secondary = append(secondary, string(c))
	}
	suggestions := a.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}

	row := analysisRow{
		ID:                     a.ID,
		UserID:                 a.UserID,
		Prompt:                 a.Prompt,
		TokenCount:             a.TokenCount,
		ICEIdea:                a.ICEScore.Idea,
		ICECost:                a.ICEScore.Cost,
		ICEExploitability:      a.ICEScore.Exploitability,
		ICEOverall:             a.ICEScore.Overall,
		PIETier:                a.PIEClassification.Tier,
		PIEPrimaryCategory:     string(a.PIEClassification.PrimaryCategory),
		PIESecondaryCategories: secondary,
		PIEReasoning:           a.PIEClassification.Reasoning,
		Suggestions:            suggestions,
		ModelVersion:           a.ModelVersion,
		ResponseTimeMs:         a.ResponseTimeMs,
		VectorEmbedding:        a.Embedding,
	}
	if !a.CreatedAt.IsZero() {
		created := a.CreatedAt.UTC()
		row.CreatedAt = &created
	}
	return row
}

func (r analysisRow) toDomain() domain.PromptAnalysis {
	secondary := make([]domain.PIECategory, 0, len(r.PIESecondaryCategories))
	for _, c := range r.PIESecondaryCategories {
		secondary = append(secondary, domain.PIECategory(c))
	}

	a := domain.PromptAnalysis{
		ID:     r.ID,
		UserID: r.UserID,
		Prompt: r.Prompt,
		ICEScore: domain.ICEScore{
			Idea:           r.ICEIdea,
			Cost:           r.ICECost,
			Exploitability: r.ICEExploitability,
			Overall:        r.ICEOverall,
		},
		PIEClassification: domain.PIEClassification{
			Tier:                r.PIETier,
			PrimaryCategory:     domain.PIECategory(r.PIEPrimaryCategory),
			SecondaryCategories: secondary,
			Reasoning:           r.PIEReasoning,
		},
		Suggestions:    r.Suggestions,
		TokenCount:     r.TokenCount,
		ModelVersion:   r.ModelVersion,
		ResponseTimeMs: r.ResponseTimeMs,
	}
	if r.ChainID != nil {
		a.ChainID = *r.ChainID
	}
	if r.CreatedAt != nil {
		a.CreatedAt = *r.CreatedAt
	}
	return a
}
