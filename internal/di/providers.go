// Package di wires the application's dependency graph with Wire.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/chain"
	"github.com/dodge1218/prompt-intelligence/internal/config"
	"github.com/dodge1218/prompt-intelligence/internal/events"
	"github.com/dodge1218/prompt-intelligence/internal/handlers"
	"github.com/dodge1218/prompt-intelligence/internal/observability"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
	"github.com/dodge1218/prompt-intelligence/internal/repository/ddb"
	"github.com/dodge1218/prompt-intelligence/internal/repository/memory"
	supastore "github.com/dodge1218/prompt-intelligence/internal/repository/supabase"
	"github.com/dodge1218/prompt-intelligence/internal/router"
	"github.com/dodge1218/prompt-intelligence/internal/service/scoring"
	"github.com/dodge1218/prompt-intelligence/internal/service/similarity"
	"github.com/dodge1218/prompt-intelligence/pkg/auth"
)

// Container holds the wired application.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        repository.Store
	Orchestrator *chain.Orchestrator
	Publisher    events.Publisher
	Collector    *observability.Collector
	Handler      http.Handler
}

// ============================================================================
// FOUNDATION
// ============================================================================

// ProvideLogger builds the logger and flushes it on cleanup.
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	logger, err := observability.NewLogger(string(cfg.Environment), cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideCollector returns nil when metrics are disabled.
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideTracer installs the OTLP exporter when tracing is enabled.
func ProvideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (trace.Tracer, func(), error) {
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	return otel.Tracer("github.com/dodge1218/prompt-intelligence"), cleanup, nil
}

// ProvideAWSConfig loads the default AWS credential chain.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// ProvideSupabaseClient returns nil when no Supabase project is configured.
func ProvideSupabaseClient(cfg *config.Config) (*supa.Client, error) {
	if cfg.Storage.SupabaseURL == "" {
		return nil, nil
	}
	client, err := supa.NewClient(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}

// ============================================================================
// STORAGE
// ============================================================================

// ProvideStore selects the storage adapter and guards it with the circuit
// breaker when enabled.
func ProvideStore(cfg *config.Config, awsCfg aws.Config, client *supa.Client, logger *zap.Logger) (repository.Store, error) {
	var store repository.Store
	switch cfg.Storage.Provider {
	case "supabase":
		if client == nil {
			return nil, fmt.Errorf("storage provider supabase requires supabase_url")
		}
		store = supastore.NewStore(client, logger.Named("supabase"))
	case "dynamodb":
		store = ddb.NewStore(dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.HTTPClient = &http.Client{Timeout: dynamoTimeout(cfg)}
		}), cfg.Storage.TableName, logger.Named("dynamodb"))
	case "memory", "":
		logger.Warn("using in-memory storage; data is lost on restart")
		store = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}

	if !cfg.Resilience.BreakerEnabled {
		return store, nil
	}
	breakerCfg := repository.DefaultBreakerConfig("storage-" + cfg.Storage.Provider)
	breakerCfg.FailureThreshold = cfg.Resilience.FailureThreshold
	breakerCfg.MinRequests = cfg.Resilience.MinRequests
	if cfg.Resilience.OpenTimeout > 0 {
		breakerCfg.Timeout = cfg.Resilience.OpenTimeout
	}
	return repository.NewBreakerStore(store, breakerCfg, logger), nil
}

func dynamoTimeout(cfg *config.Config) time.Duration {
	if cfg.IsDevelopment() {
		return 30 * time.Second
	}
	return 15 * time.Second
}

// ============================================================================
// SERVICES
// ============================================================================

// ChainConfig maps the chains config section onto the orchestrator config.
func ChainConfig(c config.Chains) chain.Config {
	return chain.Config{
		ThresholdMinutes:      c.ThresholdMinutes,
		Lookback:              c.Lookback(),
		MaxConcurrentPersists: c.MaxConcurrentPersists,
		RunTimeout:            c.RunTimeout,
		ReuseOnConflict:       c.ReuseOnConflict,
	}
}

// ProvideOrchestrator builds the chain detector.
func ProvideOrchestrator(
	cfg *config.Config,
	store repository.Store,
	collector *observability.Collector,
	tracer trace.Tracer,
	logger *zap.Logger,
) *chain.Orchestrator {
	opts := []chain.Option{chain.WithTracer(tracer)}
	if collector != nil {
		opts = append(opts, chain.WithRecorder(collector))
	}
	if !cfg.Chains.KeywordSignals {
		opts = append(opts, chain.WithAnalyzer(chain.NewAnalyzer(chain.WithoutKeywordSignals())))
	}
	return chain.NewOrchestrator(store, ChainConfig(cfg.Chains), logger.Named("chains"), opts...)
}

// ProvideScorer registers a provider for every configured API key.
func ProvideScorer(ctx context.Context, cfg *config.Config, collector *observability.Collector, logger *zap.Logger) (*scoring.Scorer, error) {
	opts := []scoring.Option{scoring.WithTimeout(cfg.LLM.Timeout)}
	if collector != nil {
		opts = append(opts, scoring.WithRecorder(collector))
	}
	if cfg.LLM.OpenAIKey != "" {
		opts = append(opts, scoring.WithProvider(scoring.NewOpenAIProvider(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL)))
	}
	if cfg.LLM.GeminiKey != "" {
		gemini, err := scoring.NewGeminiProvider(ctx, cfg.LLM.GeminiKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scoring.WithProvider(gemini))
	}
	if cfg.LLM.OpenAIKey == "" && cfg.LLM.GeminiKey == "" {
		logger.Warn("no LLM API key configured; prompt analysis is disabled")
	}
	return scoring.NewScorer(cfg.LLM.DefaultModel, logger.Named("scoring"), opts...), nil
}

// ProvideSimilarity returns nil when the embedding provider has no API key.
func ProvideSimilarity(
	ctx context.Context,
	cfg *config.Config,
	store repository.Store,
	collector *observability.Collector,
	logger *zap.Logger,
) (*similarity.Service, error) {
	var embedder similarity.Embedder
	switch cfg.Similarity.Provider {
	case "gemini":
		if cfg.LLM.GeminiKey == "" {
			break
		}
		gemini, err := similarity.NewGeminiEmbedder(ctx, cfg.LLM.GeminiKey, cfg.Similarity.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		embedder = gemini
	default:
		if cfg.LLM.OpenAIKey != "" {
			embedder = similarity.NewOpenAIEmbedder(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL, cfg.Similarity.EmbeddingModel)
		}
	}
	if embedder == nil {
		logger.Warn("no embedding provider configured; similarity search is disabled",
			zap.String("provider", cfg.Similarity.Provider))
		return nil, nil
	}

	var recorder similarity.Recorder
	if collector != nil {
		recorder = collector
	}
	return similarity.NewService(embedder, store, similarity.Config{
		Threshold:          cfg.Similarity.Threshold,
		DuplicateThreshold: cfg.Similarity.DuplicateThreshold,
		Limit:              cfg.Similarity.Limit,
	}, logger.Named("similarity"), recorder), nil
}

// ProvidePublisher publishes to EventBridge when enabled and logs events in
// development otherwise.
func ProvidePublisher(cfg *config.Config, awsCfg aws.Config, collector *observability.Collector, logger *zap.Logger) events.Publisher {
	if cfg.Events.Enabled {
		var recorder events.Recorder
		if collector != nil {
			recorder = collector
		}
		client := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
			o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
		})
		return events.NewEventBridgePublisher(client, cfg.Events.BusName, cfg.Events.Source, recorder)
	}
	if cfg.IsDevelopment() {
		return events.LogPublisher{Logger: logger.Named("events")}
	}
	return events.NoopPublisher{}
}

// ProvideVerifier returns nil in auth mode none, which enables the
// development header.
func ProvideVerifier(cfg *config.Config, client *supa.Client) (auth.Verifier, error) {
	switch cfg.Auth.Mode {
	case "jwt":
		var audience []string
		if cfg.Auth.Audience != "" {
			audience = []string{cfg.Auth.Audience}
		}
		return auth.NewJWTValidator(auth.JWTConfig{
			SigningMethod: "HS256",
			SecretKey:     cfg.Auth.JWTSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      audience,
		})
	case "supabase":
		if client == nil {
			return nil, fmt.Errorf("auth mode supabase requires supabase_url")
		}
		return auth.NewSupabaseVerifier(client), nil
	default:
		return nil, nil
	}
}

// ============================================================================
// HTTP
// ============================================================================

func ProvideChainHandler(orchestrator *chain.Orchestrator, store repository.Store, logger *zap.Logger) *handlers.ChainHandler {
	return handlers.NewChainHandler(orchestrator, store, logger.Named("handlers"))
}

func ProvideAnalysisHandler(
	scorer *scoring.Scorer,
	store repository.Store,
	finder *similarity.Service,
	publisher events.Publisher,
	logger *zap.Logger,
) *handlers.AnalysisHandler {
	var sim handlers.SimilarityFinder
	if finder != nil {
		sim = finder
	}
	return handlers.NewAnalysisHandler(scorer, store, sim, publisher, logger.Named("handlers"))
}

func ProvideHandler(
	cfg *config.Config,
	chains *handlers.ChainHandler,
	analyses *handlers.AnalysisHandler,
	verifier auth.Verifier,
	collector *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	return router.NewRouter(cfg, chains, analyses, verifier, collector, logger).Setup()
}
