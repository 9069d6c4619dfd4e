package jobs

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers job routes with the Echo instance
func (h *JobsHandler) SetupRoutes(e *echo.Echo) {
	e.GET("/v1/jobs/stats", h.HandleStats)
	e.POST("/v1/jobs/:family", h.HandleSubmit)
	e.GET("/v1/jobs/:family/result", h.HandleResult)
	e.GET("/v1/jobs/:family/:jid", h.HandleJob)
	e.POST("/v1/perform", h.HandlePerform)
}
