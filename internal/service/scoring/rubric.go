package scoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

const rubricTemplate = `You are an expert prompt engineer analyzing prompts using two frameworks:

ICE Framework:
- Idea (0-100): Novelty, originality, creative thinking
- Cost (0-100): Efficiency (higher score = lower tokens/complexity for the value delivered)
- Exploitability (0-100): Reusability, scalability, generalizability

PIE Framework (9 categories across 3 tiers):
Tier 1 (Reactive): dopamine (instant gratification), escape (avoidance), loops (repetitive/stuck)
Tier 2 (Productive): builder (creating things), deploy (executing), tool (practical utility)
Tier 3 (Strategic): strategic (long-term thinking), kairos (perfect timing/insight), self-authoring (meta-awareness)

Analyze this prompt:
"""
%s
"""

Return a JSON object with this exact structure:
{
  "ice": {
    "idea": <number 0-100>,
    "cost": <number 0-100>,
    "exploitability": <number 0-100>,
    "ideaReasoning": "<brief explanation>",
    "costReasoning": "<brief explanation>",
    "exploitabilityReasoning": "<brief explanation>"
  },
  "pie": {
    "tier": <1, 2, or 3>,
    "primaryCategory": "<one of the 9 categories>",
    "secondaryCategories": ["<category>"],
    "reasoning": "<explanation of tier and category choices>"
  },
  "suggestions": ["<specific improvement 1>", "<specific improvement 2>", "<specific improvement 3>"]
}`

// BuildRubric renders the scoring instructions for prompt.
func BuildRubric(prompt string) string {
	return fmt.Sprintf(rubricTemplate, prompt)
}

type rubricResponse struct {
	ICE struct {
		Idea           float64 `json:"idea"`
		Cost           float64 `json:"cost"`
		Exploitability float64 `json:"exploitability"`
	} `json:"ice"`
	PIE struct {
		Tier                int      `json:"tier"`
		PrimaryCategory     string   `json:"primaryCategory"`
		SecondaryCategories []string `json:"secondaryCategories"`
		Reasoning           string   `json:"reasoning"`
	} `json:"pie"`
	Suggestions []string `json:"suggestions"`
}

// parseRubric decodes and checks a model response. Unknown secondary
// categories are dropped; everything else out of range is an error.
func parseRubric(raw string) (domain.ICEScore, domain.PIEClassification, []string, error) {
	var resp rubricResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return domain.ICEScore{}, domain.PIEClassification{}, nil, invalidResponse("response is not valid JSON", err)
	}

	for name, v := range map[string]float64{
		"idea":           resp.ICE.Idea,
		"cost":           resp.ICE.Cost,
		"exploitability": resp.ICE.Exploitability,
	} {
		if v < 0 || v > 100 {
			return domain.ICEScore{}, domain.PIEClassification{}, nil,
				invalidResponse(fmt.Sprintf("ice %s out of range: %v", name, v), nil)
		}
	}
	if resp.PIE.Tier < 1 || resp.PIE.Tier > 3 {
		return domain.ICEScore{}, domain.PIEClassification{}, nil,
			invalidResponse(fmt.Sprintf("pie tier out of range: %d", resp.PIE.Tier), nil)
	}
	primary := domain.PIECategory(strings.ToLower(strings.TrimSpace(resp.PIE.PrimaryCategory)))
	if !primary.Valid() {
		return domain.ICEScore{}, domain.PIEClassification{}, nil,
			invalidResponse(fmt.Sprintf("unknown pie category %q", resp.PIE.PrimaryCategory), nil)
	}

	secondary := make([]domain.PIECategory, 0, len(resp.PIE.SecondaryCategories))
	for _, c := range resp.PIE.SecondaryCategories {
		cat := domain.PIECategory(strings.ToLower(strings.TrimSpace(c)))
		if cat.Valid() {
			secondary = append(secondary, cat)
		}
	}
	suggestions := resp.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}

	idea := roundHalfUp(resp.ICE.Idea)
	cost := roundHalfUp(resp.ICE.Cost)
	exploit := roundHalfUp(resp.ICE.Exploitability)
	ice := domain.ICEScore{
		Idea:           idea,
		Cost:           cost,
		Exploitability: exploit,
		Overall:        roundHalfUp(float64(idea+cost+exploit) / 3),
	}
	pie := domain.PIEClassification{
		Tier:                resp.PIE.Tier,
		PrimaryCategory:     primary,
		SecondaryCategories: secondary,
		Reasoning:           resp.PIE.Reasoning,
	}
	return ice, pie, suggestions, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func invalidResponse(details string, cause error) error {
	b := apperrors.External(apperrors.CodeLLMResponseInvalid, "model returned an invalid analysis").
		WithOperation("scoring.Analyze").
		WithDetails(details).
		WithRetryable(true)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b.Build()
}
