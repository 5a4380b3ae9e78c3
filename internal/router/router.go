// Package router assembles the HTTP routes and middleware stack.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/config"
	"github.com/dodge1218/prompt-intelligence/internal/handlers"
	"github.com/dodge1218/prompt-intelligence/internal/middleware"
	"github.com/dodge1218/prompt-intelligence/internal/observability"
	"github.com/dodge1218/prompt-intelligence/pkg/auth"
)

// Router wires handlers to routes.
type Router struct {
	cfg       *config.Config
	chains    *handlers.ChainHandler
	analyses  *handlers.AnalysisHandler
	verifier  auth.Verifier
	collector *observability.Collector
	logger    *zap.Logger
}

// NewRouter creates a router. A nil verifier enables development auth; a
// nil collector disables the metrics middleware and endpoint.
func NewRouter(
	cfg *config.Config,
	chains *handlers.ChainHandler,
	analyses *handlers.AnalysisHandler,
	verifier auth.Verifier,
	collector *observability.Collector,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:       cfg,
		chains:    chains,
		analyses:  analyses,
		verifier:  verifier,
		collector: collector,
		logger:    logger,
	}
}

// Setup builds the handler tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		r.Use(rt.collector.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.DevUserHeader},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	if rt.collector != nil {
		path := rt.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, rt.collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(rt.cfg.Server.RequestTimeout))
		r.Use(middleware.Authenticate(rt.verifier, rt.logger))

		r.Route("/chains", func(r chi.Router) {
			r.Get("/", rt.chains.ListChains)
			r.Post("/detect", rt.chains.DetectChains)
			r.Get("/export", rt.chains.ExportChains)
		})

		r.Route("/analyses", func(r chi.Router) {
			r.Get("/", rt.analyses.ListAnalyses)
			r.Post("/", rt.analyses.Analyze)
			r.Delete("/", rt.analyses.DeleteAllAnalyses)
			r.Get("/export", rt.analyses.ExportAnalyses)
			r.Delete("/{id}", rt.analyses.DeleteAnalysis)
		})

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/similar", rt.analyses.FindSimilar)
			r.Get("/discover", rt.analyses.Discover)
			r.Post("/embeddings/backfill", rt.analyses.BackfillEmbeddings)
		})
		r.Get("/models", rt.analyses.ListModels)
	})

	return r
}
