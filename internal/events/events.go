// Package events publishes domain events to EventBridge.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DetailTypePromptAnalyzed = "PromptAnalyzed"
	DetailTypeChainsDetected = "ChainsDetected"
)

// Event is a publishable domain event.
type Event interface {
	EventType() string
	AggregateID() string
}

// PromptAnalyzed is published after a scored prompt is saved; it triggers
// chain detection for the user.
type PromptAnalyzed struct {
	UserID     string    `json:"userId"`
	AnalysisID string    `json:"analysisId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e PromptAnalyzed) EventType() string   { return DetailTypePromptAnalyzed }
func (e PromptAnalyzed) AggregateID() string { return e.UserID }

// ChainsDetected is published after a detection run.
type ChainsDetected struct {
	UserID         string    `json:"userId"`
	ChainsDetected int       `json:"chainsDetected"`
	InsertFailures int       `json:"insertFailures"`
	LinkFailures   int       `json:"linkFailures"`
	Relinked       int       `json:"relinked"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (e ChainsDetected) EventType() string   { return DetailTypeChainsDetected }
func (e ChainsDetected) AggregateID() string { return e.UserID }

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...Event) error { return nil }

// LogPublisher logs events instead of sending them, for local runs.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		p.Logger.Info("event published",
			zap.String("detail_type", e.EventType()),
			zap.String("aggregate_id", e.AggregateID()),
			zap.Any("detail", e))
	}
	return nil
}
