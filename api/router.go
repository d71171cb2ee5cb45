package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/pinpoint/api/handler"
	"github.com/use-agent/pinpoint/api/middleware"
	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/drift"
	"github.com/use-agent/pinpoint/evolution"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/resolver"
)

// Services are the engine components the HTTP API exposes.
type Services struct {
	Registry  *registry.Registry
	Ledger    ledger.Ledger
	Resolver  *resolver.Resolver
	Drift     *drift.Detector
	Evolution *evolution.Manager

	// Browser is nil when URL documents are disabled.
	Browser *document.Browser

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// ctx bounds background work owned by the middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, svc Services, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	var (
		opener handler.DocumentOpener
		pool   handler.PagePool
	)
	if svc.Browser != nil {
		opener, pool = svc.Browser, svc.Browser
	}

	if svc.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(svc.Registry, pool, cfg.Browser.MaxPages, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Resolution
	protected.POST("/resolve", handler.Resolve(svc.Resolver, opener))

	// Registry
	protected.GET("/selectors", handler.ListSelectors(svc.Registry))
	protected.POST("/selectors", handler.RegisterSelector(svc.Registry))
	protected.GET("/selectors/:id", handler.GetSelector(svc.Registry))
	protected.PUT("/selectors/:id", handler.ReplaceSelector(svc.Registry))

	// Analysis
	protected.GET("/selectors/:id/drift", handler.Drift(svc.Registry, svc.Drift))
	protected.GET("/selectors/:id/telemetry",
		handler.Telemetry(svc.Registry, svc.Ledger, svc.Drift.Config().Window, cfg.Resolver.StrategyBudget))

	// Evolution
	protected.POST("/selectors/:id/evolve", handler.Evolve(svc.Evolution))
	protected.POST("/selectors/:id/strategies/:strategy/reinstate", handler.Reinstate(svc.Evolution))

	return r
}
