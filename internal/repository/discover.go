package repository

import (
	"sort"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

// RankDiscover builds a discover view from a user's analyses. Used by stores
// without server-side discover functions. Ties are broken newest first.
func RankDiscover(analyses []domain.PromptAnalysis, query DiscoverQuery) []domain.DiscoveredPrompt {
	rows := []domain.DiscoveredPrompt{}
	for _, a := range analyses {
		if query.Kind == DiscoverClassified {
			if query.Tier != 0 && a.PIEClassification.Tier != query.Tier {
				continue
			}
			if query.Category != "" && string(a.PIEClassification.PrimaryCategory) != query.Category {
				continue
			}
		}
		rows = append(rows, domain.DiscoveredPrompt{
			ID:                 a.ID,
			Prompt:             a.Prompt,
			ICEIdea:            a.ICEScore.Idea,
			ICEExploitability:  a.ICEScore.Exploitability,
			ICEOverall:         a.ICEScore.Overall,
			PIETier:            a.PIEClassification.Tier,
			PIEPrimaryCategory: string(a.PIEClassification.PrimaryCategory),
			CreatedAt:          a.CreatedAt,
		})
	}

	score := func(r domain.DiscoveredPrompt) int {
		switch query.Kind {
		case DiscoverNovel:
			return r.ICEIdea
		case DiscoverExploitable:
			return r.ICEExploitability
		}
		return 0
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if si, sj := score(rows[i]), score(rows[j]); si != sj {
			return si > sj
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	if query.Limit > 0 && len(rows) > query.Limit {
		rows = rows[:query.Limit]
	}
	return rows
}
