package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/itelic/itelic-updater/internal/license"
	"github.com/itelic/itelic-updater/internal/updates"
	"github.com/rs/zerolog"
)

// LicenseStatusProvider reports the stored license state.
type LicenseStatusProvider interface {
	Status(ctx context.Context) (*license.Status, error)
}

// UpdateChecker runs update checks for one product.
type UpdateChecker interface {
	Slug() string
	Check(ctx context.Context, force bool) *updates.Transient
	Last() *updates.Transient
}

// StatusResponse is the response for the status and check endpoints.
type StatusResponse struct {
	License   *license.Status     `json:"license,omitempty"`
	LastCheck *updates.Transient  `json:"last_check,omitempty"`
	Update    *updates.Descriptor `json:"update,omitempty"`
}

// StatusHandler exposes license and update state.
type StatusHandler struct {
	license LicenseStatusProvider
	checker UpdateChecker
	logger  zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(provider LicenseStatusProvider, checker UpdateChecker, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		license: provider,
		checker: checker,
		logger:  logger.With().Str("component", "status_handler").Logger(),
	}
}

// RegisterRoutes registers status routes on the given router group. The
// optional middleware guards the check endpoint.
func (h *StatusHandler) RegisterRoutes(r *gin.RouterGroup, checkMiddleware ...gin.HandlerFunc) {
	r.GET("/status", h.Status)
	r.POST("/check", append(checkMiddleware, h.Check)...)
}

// Status returns the license state and the last update check.
// GET /v1/status
func (h *StatusHandler) Status(c *gin.Context) {
	status, err := h.license.Status(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read license status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read license status"})
		return
	}

	c.JSON(http.StatusOK, h.response(status, h.checker.Last()))
}

// Check runs an update check now. With ?force=true the cached verdict is
// ignored.
// POST /v1/check
func (h *StatusHandler) Check(c *gin.Context) {
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "force must be a boolean"})
			return
		}
		force = v
	}

	status, err := h.license.Status(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read license status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read license status"})
		return
	}

	t := h.checker.Check(c.Request.Context(), force)
	c.JSON(http.StatusOK, h.response(status, t))
}

func (h *StatusHandler) response(status *license.Status, t *updates.Transient) *StatusResponse {
	resp := &StatusResponse{License: status, LastCheck: t}
	if d, ok := t.Update(h.checker.Slug()); ok {
		resp.Update = &d
	}
	return resp
}
