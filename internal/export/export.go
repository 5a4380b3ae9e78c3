// Package export renders chains and analyses as downloadable CSV and JSON.
package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json", case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON, "":
		return FormatJSON, nil
	default:
		return "", apperrors.Validation(apperrors.CodeUnsupportedFormat, "unsupported export format").
			WithDetails(s).
			Build()
	}
}

// ContentType returns the response content type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// ChainFilename names a chain export produced on day.
func ChainFilename(f Format, day time.Time) string {
	return fmt.Sprintf("money-gpt-chains-%s.%s", day.UTC().Format("2006-01-02"), f)
}

// AnalysisFilename names an analysis export produced at t.
func AnalysisFilename(f Format, t time.Time) string {
	return fmt.Sprintf("pie-analyses-%d.%s", t.UnixMilli(), f)
}

// ChainHeaders are the CSV columns of a chain export.
var ChainHeaders = []string{
	"Chain ID",
	"Start Time",
	"End Time",
	"Prompt Count",
	"Growth Delta (M-Tier)",
	"Growth Delta (SAL)",
	"Growth Delta (Complexity)",
	"Loop Pattern",
	"Vow Event",
	"Theme Cluster",
	"Symbolic Role Drift",
	"Kairos/Chronos Ratio",
}

// ChainsCSV renders chains with a bare header line and every data cell
// quoted. No chains renders nothing.
func ChainsCSV(chains []domain.ChainRecord) []byte {
	if len(chains) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(strings.Join(ChainHeaders, ","))
	for _, c := range chains {
		b.WriteByte('\n')
		writeQuotedRow(&b, []string{
			c.ID,
			formatTime(c.StartTimestamp),
			formatTime(c.EndTimestamp),
			strconv.Itoa(c.PromptCount),
			formatFloat(c.GrowthDelta.MTier),
			formatFloat(c.GrowthDelta.SAL),
			formatFloat(c.GrowthDelta.Complexity),
			string(c.LoopPattern),
			string(c.VowEvent),
			strings.Join(c.ThemeCluster, "; "),
			string(c.SymbolicRoleDrift),
			formatFloat(c.KairosChronosRatio),
		})
	}
	return []byte(b.String())
}

// AnalysisHeaders are the CSV columns of an analysis export.
var AnalysisHeaders = []string{
	"ID",
	"Timestamp",
	"Date",
	"Prompt",
	"Token Count",
	"ICE Overall",
	"ICE Idea",
	"ICE Cost",
	"ICE Exploitability",
	"PIE Tier",
	"Primary Category",
	"Secondary Categories",
	"Reasoning",
	"Suggestions",
}

// AnalysesCSV renders analyses, quoting every data cell.
func AnalysesCSV(analyses []domain.PromptAnalysis) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(AnalysisHeaders, ","))
	for _, a := range analyses {
		secondary := make([]string, len(a.PIEClassification.SecondaryCategories))
		for i, c := range a.PIEClassification.SecondaryCategories {
			secondary[i] = string(c)
		}
		b.WriteByte('\n')
		writeQuotedRow(&b, []string{
			a.ID,
			strconv.FormatInt(a.CreatedAt.UnixMilli(), 10),
			formatTime(a.CreatedAt),
			a.Prompt,
			strconv.Itoa(a.TokenCount),
			strconv.Itoa(a.ICEScore.Overall),
			strconv.Itoa(a.ICEScore.Idea),
			strconv.Itoa(a.ICEScore.Cost),
			strconv.Itoa(a.ICEScore.Exploitability),
			strconv.Itoa(a.PIEClassification.Tier),
			string(a.PIEClassification.PrimaryCategory),
			strings.Join(secondary, ", "),
			a.PIEClassification.Reasoning,
			strings.Join(a.Suggestions, "; "),
		})
	}
	return []byte(b.String())
}

// JSON renders v as indented JSON.
func JSON(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, "export.JSON", "failed to encode export")
	}
	return data, nil
}

func writeQuotedRow(b *strings.Builder, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		b.WriteByte('"')
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
