// Package domain holds the records shared by the chain detector, the storage
// adapters and the HTTP layer.
package domain

import "time"

// PromptRecord is a stored prompt as seen by chain detection.
type PromptRecord struct {
	ID         string    `json:"id"`
	PromptText string    `json:"prompt"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is a maximal run of prompts whose consecutive gaps stay within the
// segmentation threshold. Prompts is never empty for a session produced by
// the segmenter.
type Session struct {
	Prompts   []PromptRecord
	StartTime time.Time
	EndTime   time.Time
}

// NewSession builds a session over prompts, which must be non-empty and
// ordered by CreatedAt.
func NewSession(prompts []PromptRecord) Session {
	return Session{
		Prompts:   prompts,
		StartTime: prompts[0].CreatedAt,
		EndTime:   prompts[len(prompts)-1].CreatedAt,
	}
}

// PromptIDs returns the IDs of the session's prompts in order.
func (s Session) PromptIDs() []string {
	ids := make([]string, len(s.Prompts))
	for i, p := range s.Prompts {
		ids[i] = p.ID
	}
	return ids
}

// Duration is the time between the first and last prompt.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
