package scoring

import (
	"strings"
	"unicode/utf8"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Model describes a scoring model and its price.
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Provider        string  `json:"provider"`
	CostPer1MTokens float64 `json:"costPer1MTokens"`
	RequiresConfig  bool    `json:"requiresConfig,omitempty"`
}

// Models lists every supported model in display order.
var Models = []Model{
	{ID: "gpt-4o", Name: "GPT-4o", Description: "OpenAI flagship - highest quality", Provider: ProviderOpenAI, CostPer1MTokens: 15.0},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Description: "Fast and cost-effective", Provider: ProviderOpenAI, CostPer1MTokens: 0.60},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Description: "Google flagship - high quality", Provider: ProviderGemini, CostPer1MTokens: 7.0, RequiresConfig: true},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Description: "Ultra-fast and economical", Provider: ProviderGemini, CostPer1MTokens: 0.35, RequiresConfig: true},
	{ID: "gemini-1.0-pro", Name: "Gemini 1.0 Pro", Description: "Reliable backup option", Provider: ProviderGemini, CostPer1MTokens: 3.5, RequiresConfig: true},
}

// LookupModel finds a model by id.
func LookupModel(id string) (Model, error) {
	for _, m := range Models {
		if m.ID == id {
			return m, nil
		}
	}
	return Model{}, apperrors.Validation(apperrors.CodeUnknownModel, "unknown model").
		WithDetails(id).
		Build()
}

// ProviderFor returns the provider that serves a model id.
func ProviderFor(model string) string {
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}
	return ProviderOpenAI
}

// EstimateCost returns the dollar cost of tokenCount tokens on model.
func EstimateCost(tokenCount int, model string) (float64, error) {
	m, err := LookupModel(model)
	if err != nil {
		return 0, err
	}
	return float64(tokenCount) / 1_000_000 * m.CostPer1MTokens, nil
}

// AvailableModels returns the OpenAI models, plus the Gemini models when a
// Gemini key is configured.
func AvailableModels(geminiConfigured bool) []Model {
	available := make([]Model, 0, len(Models))
	for _, m := range Models {
		if m.Provider == ProviderGemini && !geminiConfigured {
			continue
		}
		available = append(available, m)
	}
	return available
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
