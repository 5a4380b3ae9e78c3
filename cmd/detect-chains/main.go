// Command detect-chains runs chain detection for a user whenever a
// PromptAnalyzed event arrives from EventBridge.
package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/chain"
	"github.com/dodge1218/prompt-intelligence/internal/config"
	"github.com/dodge1218/prompt-intelligence/internal/di"
	"github.com/dodge1218/prompt-intelligence/internal/events"
)

type consumer struct {
	detector  chain.Detector
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func (c *consumer) handle(ctx context.Context, event awsevents.EventBridgeEvent) error {
	if event.DetailType != events.DetailTypePromptAnalyzed {
		c.logger.Info("skipping event", zap.String("detail_type", event.DetailType))
		return nil
	}

	var detail events.PromptAnalyzed
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		// A malformed detail will never parse; retrying cannot help.
		c.logger.Error("could not unmarshal event detail",
			zap.String("event_id", event.ID),
			zap.ByteString("detail", event.Detail),
			zap.Error(err))
		return nil
	}
	if detail.UserID == "" {
		c.logger.Warn("event has no user", zap.String("event_id", event.ID))
		return nil
	}

	result, err := c.detector.DetectAndPersistChains(ctx, detail.UserID, 0)
	if err != nil {
		c.logger.Error("chain detection failed",
			zap.String("user_id", detail.UserID),
			zap.Error(err))
		return err
	}

	if result.ChainsDetected == 0 && result.Relinked == 0 {
		return nil
	}

	out := events.ChainsDetected{
		UserID:         detail.UserID,
		ChainsDetected: result.ChainsDetected,
		InsertFailures: result.InsertFailures,
		LinkFailures:   result.LinkFailures,
		Relinked:       result.Relinked,
		OccurredAt:     c.now().UTC(),
	}
	if err := c.publisher.Publish(ctx, out); err != nil {
		c.logger.Error("could not publish ChainsDetected event",
			zap.String("user_id", detail.UserID),
			zap.Error(err))
		return err
	}

	c.logger.Info("chains detected",
		zap.String("user_id", detail.UserID),
		zap.String("analysis_id", detail.AnalysisID),
		zap.Int("chains", result.ChainsDetected),
		zap.Int("relinked", result.Relinked))
	return nil
}

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()

	c := &consumer{
		detector:  container.Orchestrator,
		publisher: container.Publisher,
		logger:    container.Logger.Named("detect-chains"),
		now:       time.Now,
	}
	lambda.Start(c.handle)
}
