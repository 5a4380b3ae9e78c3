package chain

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
)

const (
	collapsingRepetition = 0.5
	regressiveRatio      = 0.5
	escalatingRatio      = 1.5
	minTrendPrompts      = 3
)

// Analyzer derives ChainMetadata from a session. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	growth GrowthEstimator
	themes ThemeClassifier
	roles  RoleDetector
}

// AnalyzerOption customises an Analyzer.
type AnalyzerOption func(*Analyzer)

func WithGrowthEstimator(g GrowthEstimator) AnalyzerOption {
	return func(a *Analyzer) { a.growth = g }
}

func WithThemeClassifier(c ThemeClassifier) AnalyzerOption {
	return func(a *Analyzer) { a.themes = c }
}

func WithRoleDetector(d RoleDetector) AnalyzerOption {
	return func(a *Analyzer) { a.roles = d }
}

// WithoutKeywordSignals disables keyword theme and role detection.
func WithoutKeywordSignals() AnalyzerOption {
	return func(a *Analyzer) {
		a.themes = NoopThemes{}
		a.roles = NoopRoles{}
	}
}

// NewAnalyzer returns an analyzer with zero growth estimates and keyword
// based themes and roles unless overridden.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		growth: zeroGrowth{},
		themes: KeywordThemes{},
		roles:  KeywordRoles{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze derives the metadata of a session. It panics when the session has
// no prompts.
func (a *Analyzer) Analyze(session domain.Session) domain.ChainMetadata {
	if len(session.Prompts) == 0 {
		panic("chain: Analyze called with an empty session")
	}

	texts := make([]string, len(session.Prompts))
	for i, p := range session.Prompts {
		texts[i] = strings.ToLower(p.PromptText)
	}

	first, last := session.Prompts[0], session.Prompts[len(session.Prompts)-1]
	mtier, sal := a.growth.EstimateGrowth(first, last)

	themes := a.themes.Classify(texts)
	if themes == nil {
		themes = []string{}
	}

	return domain.ChainMetadata{
		GrowthDelta: domain.GrowthDelta{
			MTier:      mtier,
			SAL:        sal,
			Complexity: round2(averageLength(texts) / 100),
		},
		LoopPattern:        loopPattern(texts),
		VowEvent:           vowEvent(texts),
		ThemeCluster:       themes,
		SymbolicRoleDrift:  a.roleDrift(first.PromptText, last.PromptText),
		KairosChronosRatio: kairosChronosRatio(session),
	}
}

// loopPattern applies the rules in priority order: heavy repetition first,
// then a shrinking or growing last prompt on sessions longer than three.
func loopPattern(texts []string) domain.LoopPattern {
	n := len(texts)
	distinct := make(map[string]struct{}, n)
	for _, t := range texts {
		distinct[t] = struct{}{}
	}
	repetition := 1 - float64(len(distinct))/float64(n)

	firstLen := float64(utf8.RuneCountInString(texts[0]))
	lastLen := float64(utf8.RuneCountInString(texts[n-1]))

	switch {
	case repetition > collapsingRepetition:
		return domain.LoopCollapsing
	case n > minTrendPrompts && lastLen < firstLen*regressiveRatio:
		return domain.LoopRegressive
	case n > minTrendPrompts && lastLen > firstLen*escalatingRatio:
		return domain.LoopEscalating
	default:
		return domain.LoopResolved
	}
}

// vowEvent only ever reports formed; fulfilled, broken and distorted need
// outcome tracking across chains.
func vowEvent(texts []string) domain.VowEvent {
	if anyContains(texts, vowPhrases) {
		return domain.VowFormed
	}
	return domain.VowNone
}

func (a *Analyzer) roleDrift(firstText, lastText string) domain.RoleDrift {
	start := a.roles.DetectRole(firstText)
	end := a.roles.DetectRole(lastText)
	if start == "" || end == "" || start == end {
		return ""
	}
	return domain.RoleDrift(start + "->" + end)
}

func kairosChronosRatio(session domain.Session) float64 {
	minutes := float64(session.EndTime.UnixMilli()-session.StartTime.UnixMilli()) / 60000
	if minutes <= 0 {
		return 1.0
	}
	return round2(float64(len(session.Prompts)) / minutes)
}

func averageLength(texts []string) float64 {
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return float64(total) / float64(len(texts))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
