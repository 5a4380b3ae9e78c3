package domain

import "time"

// PIECategory is one of the nine prompt intent categories.
type PIECategory string

const (
	CategoryDopamine      PIECategory = "dopamine"
	CategoryEscape        PIECategory = "escape"
	CategoryLoops         PIECategory = "loops"
	CategoryBuilder       PIECategory = "builder"
	CategoryDeploy        PIECategory = "deploy"
	CategoryTool          PIECategory = "tool"
	CategoryStrategic     PIECategory = "strategic"
	CategoryKairos        PIECategory = "kairos"
	CategorySelfAuthoring PIECategory = "self-authoring"
)

// PIECategories lists every category in tier order.
var PIECategories = []PIECategory{
	CategoryDopamine, CategoryEscape, CategoryLoops,
	CategoryBuilder, CategoryDeploy, CategoryTool,
	CategoryStrategic, CategoryKairos, CategorySelfAuthoring,
}

// Valid reports whether c is a known category.
func (c PIECategory) Valid() bool {
	for _, known := range PIECategories {
		if c == known {
			return true
		}
	}
	return false
}

// ICEScore is the idea/cost/exploitability rubric, each 0-100.
type ICEScore struct {
	Idea           int `json:"idea"`
	Cost           int `json:"cost"`
	Exploitability int `json:"exploitability"`
	Overall        int `json:"overall"`
}

// PIEClassification places a prompt in a tier (1-3) and categories.
type PIEClassification struct {
	Tier                int           `json:"tier"`
	PrimaryCategory     PIECategory   `json:"primaryCategory"`
	SecondaryCategories []PIECategory `json:"secondaryCategories"`
	Reasoning           string        `json:"reasoning"`
}

// PromptAnalysis is a scored prompt.
type PromptAnalysis struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId,omitempty"`
	Prompt            string            `json:"prompt"`
	CreatedAt         time.Time         `json:"createdAt"`
	ICEScore          ICEScore          `json:"iceScore"`
	PIEClassification PIEClassification `json:"pieClassification"`
	Suggestions       []string          `json:"suggestions"`
	TokenCount        int               `json:"tokenCount"`
	ModelVersion      string            `json:"modelVersion,omitempty"`
	ResponseTimeMs    int64             `json:"responseTimeMs,omitempty"`
	ChainID           string            `json:"chainId,omitempty"`
	Embedding         []float64         `json:"-"`
}

// SimilarPrompt is a ranked match returned by similarity search.
type SimilarPrompt struct {
	ID         string  `json:"id"`
	Prompt     string  `json:"prompt"`
	ICEOverall int     `json:"ice_overall"`
	PIETier    int     `json:"pie_tier"`
	Similarity float64 `json:"similarity"`
}

// DiscoveredPrompt is a row of the discover views: a user's most novel or
// most exploitable prompts, or those in a tier and category.
type DiscoveredPrompt struct {
	ID                 string    `json:"id"`
	Prompt             string    `json:"prompt"`
	ICEIdea            int       `json:"ice_idea"`
	ICEExploitability  int       `json:"ice_exploitability"`
	ICEOverall         int       `json:"ice_overall"`
	PIETier            int       `json:"pie_tier"`
	PIEPrimaryCategory string    `json:"pie_primary_category"`
	CreatedAt          time.Time `json:"created_at"`
}
