package chain

import "github.com/dodge1218/prompt-intelligence/internal/domain"

// Segmenter splits an ordered prompt stream into sessions.
type Segmenter struct {
	thresholdMinutes float64
}

// NewSegmenter returns a segmenter using the given gap threshold in minutes.
func NewSegmenter(thresholdMinutes float64) *Segmenter {
	return &Segmenter{thresholdMinutes: thresholdMinutes}
}

// Segment splits prompts with the segmenter's threshold.
func (s *Segmenter) Segment(prompts []domain.PromptRecord) []domain.Session {
	return Segment(prompts, s.thresholdMinutes)
}

// Segment groups prompts into sessions in a single pass. Each prompt is
// compared with the prompt immediately before it; a gap of at most
// thresholdMinutes keeps it in the current session.
//
// prompts must be sorted ascending by CreatedAt. Unsorted input is not
// detected and yields meaningless sessions.
func Segment(prompts []domain.PromptRecord, thresholdMinutes float64) []domain.Session {
	sessions := []domain.Session{}
	if len(prompts) == 0 {
		return sessions
	}

	start := 0
	for i := 1; i < len(prompts); i++ {
		if gapMinutes(prompts[i-1], prompts[i]) > thresholdMinutes {
			sessions = append(sessions, newSession(prompts[start:i]))
			start = i
		}
	}
	return append(sessions, newSession(prompts[start:]))
}

func gapMinutes(prev, cur domain.PromptRecord) float64 {
	return float64(cur.CreatedAt.UnixMilli()-prev.CreatedAt.UnixMilli()) / 60000
}

// newSession copies the run so sessions never share a backing array with
// the caller's slice or with each other.
func newSession(run []domain.PromptRecord) domain.Session {
	prompts := make([]domain.PromptRecord, len(run))
	copy(prompts, run)
	return domain.NewSession(prompts)
}
