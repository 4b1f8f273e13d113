// Package api provides the local HTTP API of the updater daemon.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/itelic/itelic-updater/internal/api/handlers"
	"github.com/itelic/itelic-updater/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// CheckRateLimitRequests is the number of forced checks allowed per period.
	CheckRateLimitRequests int64
	// CheckRateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	CheckRateLimitPeriod string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckRateLimitRequests: 6,
		CheckRateLimitPeriod:   "1h",
	}
}

// Dependencies are the components served by the router.
type Dependencies struct {
	Settings handlers.SettingsHealthChecker
	Breaker  handlers.BreakerStateProvider
	License  handlers.LicenseStatusProvider
	Checker  handlers.UpdateChecker
	Gatherer prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	if deps.License == nil || deps.Checker == nil {
		return nil, fmt.Errorf("license status provider and update checker are required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	healthHandler := handlers.NewHealthHandler(deps.Settings, deps.Breaker, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	}

	var checkMiddleware []gin.HandlerFunc
	if cfg.CheckRateLimitRequests > 0 {
		limiter, err := middleware.NewRateLimiter(cfg.CheckRateLimitRequests, cfg.CheckRateLimitPeriod)
		if err != nil {
			return nil, err
		}
		checkMiddleware = append(checkMiddleware, limiter)
	}

	v1 := r.Engine.Group("/v1")
	statusHandler := handlers.NewStatusHandler(deps.License, deps.Checker, logger)
	statusHandler.RegisterRoutes(v1, checkMiddleware...)

	r.logger.Info().
		Int64("check_rate_limit", cfg.CheckRateLimitRequests).
		Str("check_rate_period", cfg.CheckRateLimitPeriod).
		Msg("API router initialized")

	return r, nil
}
