//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/dodge1218/prompt-intelligence/internal/config"
)

// FoundationSet provides logging, metrics, tracing and cloud clients.
var FoundationSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	ProvideTracer,
	ProvideAWSConfig,
	ProvideSupabaseClient,
)

// ServiceSet provides storage and the domain services.
var ServiceSet = wire.NewSet(
	ProvideStore,
	ProvideOrchestrator,
	ProvideScorer,
	ProvideSimilarity,
	ProvidePublisher,
)

// HTTPSet provides authentication, handlers and the router.
var HTTPSet = wire.NewSet(
	ProvideVerifier,
	ProvideChainHandler,
	ProvideAnalysisHandler,
	ProvideHandler,
)

// InitializeContainer creates a fully wired container.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(
		FoundationSet,
		ServiceSet,
		HTTPSet,
		wire.Struct(new(Container), "*"),
	)
	return nil, nil, nil
}
