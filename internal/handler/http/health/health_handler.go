package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/atomic"

	"github.com/zep-us/httpjobs/internal/dispatch"
)

// StatsSource reports per-family job counters
type StatsSource interface {
	Stats() map[dispatch.Strategy]dispatch.Stats
}

// HealthHandler handles the Kubernetes probe endpoints
type HealthHandler struct {
	readiness *atomic.Bool
	jobs      StatsSource
}

// readinessResponse is the /readyz body. Jobs is omitted when no source is wired.
type readinessResponse struct {
	Ready bool                                `json:"ready"`
	Jobs  map[dispatch.Strategy]dispatch.Stats `json:"jobs,omitempty"`
}

// NewHealthHandler creates a HealthHandler.
// readiness is flipped off by the app at the start of shutdown; jobs may be nil.
func NewHealthHandler(readiness *atomic.Bool, jobs StatsSource) *HealthHandler {
	return &HealthHandler{
		readiness: readiness,
		jobs:      jobs,
	}
}

// HandleLiveness handles GET /healthz
// Always 200 while the process serves HTTP
func (h *HealthHandler) HandleLiveness(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// HandleReadiness handles GET /readyz
// 200 when accepting jobs, 503 once shutdown has begun. The body carries the job counters.
func (h *HealthHandler) HandleReadiness(c echo.Context) error {
	resp := readinessResponse{Ready: h.readiness.Load()}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Stats()
	}
	if !resp.Ready {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
