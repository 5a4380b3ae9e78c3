package ddb

import (
	"fmt"
	"time"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

// Single-table layout. Every item for a user shares the partition key.
const (
	userPrefix     = "USER#"
	promptPrefix   = "PROMPT#"
	chainPrefix    = "CHAIN#"
	chainKeyPrefix = "CHAINKEY#"

	entityPrompt   = "PROMPT"
	entityChain    = "CHAIN"
	entityChainKey = "CHAIN_KEY"
)

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func userPK(userID string) string     { return userPrefix + userID }
func promptSK(promptID string) string { return promptPrefix + promptID }
func chainSK(chainID string) string   { return chainPrefix + chainID }
func chainKeySK(key string) string    { return chainKeyPrefix + key }
func formatTime(t time.Time) string   { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

type promptItem struct {
	PK                     string    `dynamodbav:"PK"`
	SK                     string    `dynamodbav:"SK"`
	EntityType             string    `dynamodbav:"EntityType"`
	ID                     string    `dynamodbav:"ID"`
	UserID                 string    `dynamodbav:"UserID"`
	Prompt                 string    `dynamodbav:"Prompt"`
	CreatedAt              string    `dynamodbav:"CreatedAt"`
	ChainID                string    `dynamodbav:"ChainID,omitempty"`
	TokenCount             int       `dynamodbav:"TokenCount"`
	ICEIdea                int       `dynamodbav:"ICEIdea"`
	ICECost                int       `dynamodbav:"ICECost"`
	ICEExploitability      int       `dynamodbav:"ICEExploitability"`
	ICEOverall             int       `dynamodbav:"ICEOverall"`
	PIETier                int       `dynamodbav:"PIETier"`
	PIEPrimaryCategory     string    `dynamodbav:"PIEPrimaryCategory,omitempty"`
	PIESecondaryCategories []string  `dynamodbav:"PIESecondaryCategories,omitempty"`
	PIEReasoning           string    `dynamodbav:"PIEReasoning,omitempty"`
	Suggestions            []string  `dynamodbav:"Suggestions,omitempty"`
	ModelVersion           string    `dynamodbav:"ModelVersion,omitempty"`
	ResponseTimeMs         int64     `dynamodbav:"ResponseTimeMs"`
	Embedding              []float64 `dynamodbav:"Embedding,omitempty"`
}

func newPromptItem(a *domain.PromptAnalysis) promptItem {
	secondary := make([]string, 0, len(a.PIEClassification.SecondaryCategories))
	for _, c := range a.PIEClassification.SecondaryCategories {
		secondary = append(secondary, string(c))
	}
	return promptItem{
		PK:                     userPK(a.UserID),
		SK:                     promptSK(a.ID),
		EntityType:             entityPrompt,
		ID:                     a.ID,
		UserID:                 a.UserID,
		Prompt:                 a.Prompt,
		CreatedAt:              formatTime(a.CreatedAt),
		ChainID:                a.ChainID,
		TokenCount:             a.TokenCount,
		ICEIdea:                a.ICEScore.Idea,
		ICECost:                a.ICEScore.Cost,
		ICEExploitability:      a.ICEScore.Exploitability,
		ICEOverall:             a.ICEScore.Overall,
		PIETier:                a.PIEClassification.Tier,
		PIEPrimaryCategory:     string(a.PIEClassification.PrimaryCategory),
		PIESecondaryCategories: secondary,
		PIEReasoning:           a.PIEClassification.Reasoning,
		Suggestions:            a.Suggestions,
		ModelVersion:           a.ModelVersion,
		ResponseTimeMs:         a.ResponseTimeMs,
		Embedding:              a.Embedding,
	}
}

func (it promptItem) toAnalysis() (domain.PromptAnalysis, error) {
	created, err := parseTime(it.CreatedAt)
	if err != nil {
		return domain.PromptAnalysis{}, err
	}
	secondary := make([]domain.PIECategory, 0, len(it.PIESecondaryCategories))
	for _, c := range it.PIESecondaryCategories {
		secondary = append(secondary, domain.PIECategory(c))
	}
	return domain.PromptAnalysis{
		ID:        it.ID,
		UserID:    it.UserID,
		Prompt:    it.Prompt,
		CreatedAt: created,
		ICEScore: domain.ICEScore{
			Idea:           it.ICEIdea,
			Cost:           it.ICECost,
			Exploitability: it.ICEExploitability,
			Overall:        it.ICEOverall,
		},
		PIEClassification: domain.PIEClassification{
			Tier:                it.PIETier,
			PrimaryCategory:     domain.PIECategory(it.PIEPrimaryCategory),
			SecondaryCategories: secondary,
			Reasoning:           it.PIEReasoning,
		},
		Suggestions:    it.Suggestions,
		TokenCount:     it.TokenCount,
		ModelVersion:   it.ModelVersion,
		ResponseTimeMs: it.ResponseTimeMs,
		ChainID:        it.ChainID,
		Embedding:      it.Embedding,
	}, nil
}

type chainItem struct {
	PK                 string             `dynamodbav:"PK"`
	SK                 string             `dynamodbav:"SK"`
	EntityType         string             `dynamodbav:"EntityType"`
	ID                 string             `dynamodbav:"ID"`
	UserID             string             `dynamodbav:"UserID"`
	StartTimestamp     string             `dynamodbav:"StartTimestamp"`
	EndTimestamp       string             `dynamodbav:"EndTimestamp"`
	PromptCount        int                `dynamodbav:"PromptCount"`
	GrowthDelta        domain.GrowthDelta `dynamodbav:"GrowthDelta"`
	LoopPattern        string             `dynamodbav:"LoopPattern,omitempty"`
	VowEvent           string             `dynamodbav:"VowEvent,omitempty"`
	ThemeCluster       []string           `dynamodbav:"ThemeCluster"`
	SymbolicRoleDrift  string             `dynamodbav:"SymbolicRoleDrift,omitempty"`
	KairosChronosRatio float64            `dynamodbav:"KairosChronosRatio"`
	IdempotencyKey     string             `dynamodbav:"IdempotencyKey,omitempty"`
}

func newChainItem(c domain.ChainRecord) chainItem {
	themes := c.ThemeCluster
	if themes == nil {
		themes = []string{}
	}
	return chainItem{
		PK:                 userPK(c.UserID),
		SK:                 chainSK(c.ID),
		EntityType:         entityChain,
		ID:                 c.ID,
		UserID:             c.UserID,
		StartTimestamp:     formatTime(c.StartTimestamp),
		EndTimestamp:       formatTime(c.EndTimestamp),
		PromptCount:        c.PromptCount,
		GrowthDelta:        c.GrowthDelta,
		LoopPattern:        string(c.LoopPattern),
		VowEvent:           string(c.VowEvent),
		ThemeCluster:       themes,
		SymbolicRoleDrift:  string(c.SymbolicRoleDrift),
		KairosChronosRatio: c.KairosChronosRatio,
		IdempotencyKey:     c.IdempotencyKey,
	}
}

func (it chainItem) toRecord() (domain.ChainRecord, error) {
	start, err := parseTime(it.StartTimestamp)
	if err != nil {
		return domain.ChainRecord{}, err
	}
	end, err := parseTime(it.EndTimestamp)
	if err != nil {
		return domain.ChainRecord{}, err
	}
	themes := it.ThemeCluster
	if themes == nil {
		themes = []string{}
	}
	return domain.ChainRecord{
		ID:             it.ID,
		UserID:         it.UserID,
		StartTimestamp: start,
		EndTimestamp:   end,
		PromptCount:    it.PromptCount,
		ChainMetadata: domain.ChainMetadata{
			GrowthDelta:        it.GrowthDelta,
			LoopPattern:        domain.LoopPattern(it.LoopPattern),
			VowEvent:           domain.VowEvent(it.VowEvent),
			ThemeCluster:       themes,
			SymbolicRoleDrift:  domain.RoleDrift(it.SymbolicRoleDrift),
			KairosChronosRatio: it.KairosChronosRatio,
		},
		IdempotencyKey: it.IdempotencyKey,
	}, nil
}

type chainKeyItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	ChainID    string `dynamodbav:"ChainID"`
}
