package domain

import (
	"encoding/json"
	"time"
)

// LoopPattern classifies how a session evolved.
type LoopPattern string

const (
	LoopEscalating LoopPattern = "escalating"
	LoopRegressive LoopPattern = "regressive"
	LoopCollapsing LoopPattern = "collapsing"
	LoopResolved   LoopPattern = "resolved"
)

// VowEvent records commitment language found in a session. The empty value
// means no vow was detected.
type VowEvent string

const (
	VowNone      VowEvent = ""
	VowFormed    VowEvent = "formed"
	VowFulfilled VowEvent = "fulfilled"
	VowBroken    VowEvent = "broken"
	VowDistorted VowEvent = "distorted"
)

// RoleDrift is a "start->end" role transition. Empty when no drift was seen.
type RoleDrift string

// MarshalJSON writes an undetected pattern as null.
func (p LoopPattern) MarshalJSON() ([]byte, error) { return optionalJSON(string(p)) }

// MarshalJSON writes VowNone as null.
func (v VowEvent) MarshalJSON() ([]byte, error) { return optionalJSON(string(v)) }

// MarshalJSON writes an empty drift as null.
func (d RoleDrift) MarshalJSON() ([]byte, error) { return optionalJSON(string(d)) }

// optionalJSON keeps absent metadata keys present in exports and rows.
func optionalJSON(s string) ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

// GrowthDelta estimates how much a session moved between its first and last prompt.
type GrowthDelta struct {
	MTier      float64 `json:"mtier"`
	SAL        float64 `json:"sal"`
	Complexity float64 `json:"complexity"`
}

// ChainMetadata is everything derived from a single session.
type ChainMetadata struct {
	GrowthDelta        GrowthDelta `json:"growth_delta"`
	LoopPattern        LoopPattern `json:"loop_pattern"`
	VowEvent           VowEvent    `json:"vow_event"`
	ThemeCluster       []string    `json:"theme_cluster"`
	SymbolicRoleDrift  RoleDrift   `json:"symbolic_role_drift"`
	KairosChronosRatio float64     `json:"kairos_chronos_ratio"`
}

// ChainRecord is a persisted chain. ID is assigned by the store on insert.
type ChainRecord struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	StartTimestamp time.Time `json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
	PromptCount    int       `json:"prompt_count"`
	ChainMetadata
	// IdempotencyKey is only set when chain reuse is enabled; stores that
	// support it keep it unique per user.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// NewChainRecord assembles the record persisted for a session.
func NewChainRecord(userID string, session Session, meta ChainMetadata) ChainRecord {
	return ChainRecord{
		UserID:         userID,
		StartTimestamp: session.StartTime,
		EndTimestamp:   session.EndTime,
		PromptCount:    len(session.Prompts),
		ChainMetadata:  meta,
	}
}
