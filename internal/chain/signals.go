package chain

import (
	"strings"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

// GrowthEstimator compares the first and last prompt of a session. The
// returned values become the chain's mtier and sal growth.
type GrowthEstimator interface {
	EstimateGrowth(first, last domain.PromptRecord) (mtier, sal float64)
}

// ThemeClassifier tags a session with themes from a fixed vocabulary.
type ThemeClassifier interface {
	Classify(texts []string) []string
}

// RoleDetector names the symbolic role a prompt speaks from, or returns ""
// when none is recognised.
type RoleDetector interface {
	DetectRole(text string) string
}

// Theme and role vocabularies.
var (
	Themes = []string{"productivity", "anxiety", "learning", "coding", "relationships"}
	Roles  = []string{"victim", "hero", "observer", "architect", "critic"}
)

var vowPhrases = []string{"i promise", "i will", "my goal", "i commit", "never again"}

var themeKeywords = map[string][]string{
	"productivity":  {"productiv", "focus", "schedule", "deadline", "habit", "procrastinat"},
	"anxiety":       {"anxi", "worry", "worried", "stress", "nervous", "panic", "overwhelm"},
	"learning":      {"learn", "study", "understand", "explain", "teach", "course"},
	"coding":        {"code", "coding", "bug", "debug", "function", "program", "compile"},
	"relationships": {"relationship", "friend", "partner", "family", "dating", "marriage"},
}

var roleKeywords = map[string][]string{
	"victim":    {"victim", "why me", "unfair", "helpless", "stuck"},
	"hero":      {"hero", "overcome", "conquer", "rescue", "i can do"},
	"observer":  {"observer", "i notice", "i wonder", "curious", "observe"},
	"architect": {"architect", "design", "blueprint", "structure", "plan"},
	"critic":    {"critic", "critique", "flaw", "wrong with", "review"},
}

type zeroGrowth struct{}

func (zeroGrowth) EstimateGrowth(domain.PromptRecord, domain.PromptRecord) (float64, float64) {
	return 0, 0
}

// KeywordThemes matches lower-cased texts against a keyword list per theme.
// Themes are returned in vocabulary order.
type KeywordThemes struct{}

func (KeywordThemes) Classify(texts []string) []string {
	themes := []string{}
	for _, theme := range Themes {
		if anyContains(texts, themeKeywords[theme]) {
			themes = append(themes, theme)
		}
	}
	return themes
}

// KeywordRoles picks the first role in vocabulary order whose keywords
// appear in the text.
type KeywordRoles struct{}

func (KeywordRoles) DetectRole(text string) string {
	lowered := strings.ToLower(text)
	for _, role := range Roles {
		if anyContains([]string{lowered}, roleKeywords[role]) {
			return role
		}
	}
	return ""
}

// NoopThemes never tags a session.
type NoopThemes struct{}

func (NoopThemes) Classify([]string) []string { return []string{} }

// NoopRoles never detects a role, so role drift stays absent.
type NoopRoles struct{}

func (NoopRoles) DetectRole(string) string { return "" }

func anyContains(texts, needles []string) bool {
	for _, text := range texts {
		for _, needle := range needles {
			if strings.Contains(text, needle) {
				return true
			}
		}
	}
	return false
}
