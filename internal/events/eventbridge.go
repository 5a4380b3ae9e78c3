package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// maxBatch is the EventBridge limit of entries per PutEvents call.
const maxBatch = 10

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Recorder counts publish attempts.
type Recorder interface {
	RecordEvent(detailType string, err error)
}

// EventBridgePublisher publishes events to an EventBridge bus.
type EventBridgePublisher struct {
	client   EventBridgeAPI
	eventBus string
	source   string
	recorder Recorder
	now      func() time.Time
}

// NewEventBridgePublisher creates a publisher. recorder may be nil.
func NewEventBridgePublisher(client EventBridgeAPI, eventBus, source string, recorder Recorder) *EventBridgePublisher {
	if eventBus == "" {
		eventBus = "default"
	}
	if source == "" {
		source = "prompt-intelligence"
	}
	return &EventBridgePublisher{
		client:   client,
		eventBus: eventBus,
		source:   source,
		recorder: recorder,
		now:      time.Now,
	}
}

// Publish sends events in batches of at most ten.
func (p *EventBridgePublisher) Publish(ctx context.Context, events ...Event) error {
	for i := 0; i < len(events); i += maxBatch {
		end := i + maxBatch
		if end > len(events) {
			end = len(events)
		}
		err := p.publishBatch(ctx, events[i:end])
		p.record(events[i:end], err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *EventBridgePublisher) publishBatch(ctx context.Context, batch []Event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, event := range batch {
		detail, err := json.Marshal(event)
		if err != nil {
			return apperrors.Wrap(err, "events.Publish", "failed to marshal event")
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBus),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.EventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(p.now()),
			Resources:    []string{event.AggregateID()},
		})
	}

	output, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return apperrors.External(apperrors.CodeEventPublishFailed, "failed to put events").
			WithOperation("events.Publish").
			WithCause(err).
			Build()
	}
	if output.FailedEntryCount > 0 {
		return apperrors.External(apperrors.CodeEventPublishFailed, "events failed to publish").
			WithOperation("events.Publish").
			WithDetails(fmt.Sprintf("%d of %d entries failed", output.FailedEntryCount, len(entries))).
			Build()
	}
	return nil
}

func (p *EventBridgePublisher) record(batch []Event, err error) {
	if p.recorder == nil {
		return
	}
	for _, e := range batch {
		p.recorder.RecordEvent(e.EventType(), err)
	}
}
