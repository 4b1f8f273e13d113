package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// SettingsHealthChecker defines the interface for settings store health checking.
type SettingsHealthChecker interface {
	Ping(ctx context.Context) error
}

// BreakerStateProvider reports the licensing transport's circuit breaker state.
type BreakerStateProvider interface {
	BreakerState() string
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	settings SettingsHealthChecker
	breaker  BreakerStateProvider
	logger   zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(settings SettingsHealthChecker, breaker BreakerStateProvider, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		settings: settings,
		breaker:  breaker,
		logger:   logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Overall)
}

// Overall returns the daemon health status. An open circuit breaker degrades
// health without failing it: the poller keeps running and retries later.
// GET /healthz
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: map[string]*HealthCheckResult{
			"settings":  h.checkSettings(ctx),
			"licensing": h.checkBreaker(),
		},
	}

	if response.Checks["licensing"].Status == HealthStatusDegraded {
		response.Status = HealthStatusDegraded
	}
	if response.Checks["settings"].Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// checkSettings performs a settings store health check.
func (h *HealthHandler) checkSettings(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.settings == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "settings store not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.settings.Ping(ctx)
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "settings store ping failed"
		h.logger.Warn().Err(err).Msg("settings health check failed")
	}

	return result
}

// checkBreaker reports the licensing circuit breaker state.
func (h *HealthHandler) checkBreaker() *HealthCheckResult {
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.breaker == nil {
		result.Details = map[string]any{"breaker": "disabled"}
		return result
	}

	state := h.breaker.BreakerState()
	result.Details = map[string]any{"breaker": state}
	if state == "open" {
		result.Status = HealthStatusDegraded
		result.Error = "licensing service circuit open"
	}

	return result
}
