package repository

import (
	"math"
	"sort"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankSimilar scores analyses against the query embedding and keeps the top
// matches at or above the threshold. Used by stores without a vector index.
func RankSimilar(analyses []domain.PromptAnalysis, query SimilarityQuery) []domain.SimilarPrompt {
	matches := []domain.SimilarPrompt{}
	for _, a := range analyses {
		if len(a.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(a.Embedding, query.Embedding)
		if score < query.Threshold {
			continue
		}
		matches = append(matches, domain.SimilarPrompt{
			ID:         a.ID,
			Prompt:     a.Prompt,
			ICEOverall: a.ICEScore.Overall,
			PIETier:    a.PIEClassification.Tier,
			Similarity: score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}
	return matches
}
