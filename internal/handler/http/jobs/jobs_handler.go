package jobs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/zep-us/httpjobs/internal/client"
	"github.com/zep-us/httpjobs/internal/dispatch"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// JobsHandler exposes the job engine over HTTP
type JobsHandler struct {
	client          *client.Client
	allowFileFields bool
	log             *logger.Logger
}

// NewJobsHandler creates a JobsHandler around c.
// allowFileFields lets API callers attach local files as multipart parts.
func NewJobsHandler(c *client.Client, allowFileFields bool) *JobsHandler {
	return &JobsHandler{
		client:          c,
		allowFileFields: allowFileFields,
		log:             logger.Named("api"),
	}
}

// HandleSubmit handles POST /v1/jobs/:family
// Returns 202 with the job id, 400 for an invalid request, 503 when the family is full or shutting down
func (h *JobsHandler) HandleSubmit(c echo.Context) error {
	d, ok := h.dispatcher(c)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown job family " + strconv.Quote(c.Param("family"))})
	}

	var payload JobRequest
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed job: " + err.Error()})
	}
	spec, err := payload.Spec(h.allowFileFields)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	id, err := d.Submit(spec)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, SubmitResponse{JID: id})
	case errors.Is(err, dispatch.ErrInvalidSpec):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, dispatch.ErrCapacityExceeded), errors.Is(err, dispatch.ErrShutdown):
		h.log.Warn("Rejecting %s job: %v", d.Strategy(), err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.log.Error("Submit failed: %v", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// HandleResult handles GET /v1/jobs/:family/result
// Returns the oldest completed job, or 204 when none is ready
func (h *JobsHandler) HandleResult(c echo.Context) error {
	d, ok := h.dispatcher(c)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown job family " + strconv.Quote(c.Param("family"))})
	}

	res, ok := d.Poll()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, newResultResponse(res))
}

// HandleJob handles GET /v1/jobs/:family/:jid
// Reports the state of a job that has not been collected yet
func (h *JobsHandler) HandleJob(c echo.Context) error {
	d, ok := h.dispatcher(c)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown job family " + strconv.Quote(c.Param("family"))})
	}
	n, err := strconv.ParseUint(c.Param("jid"), 10, 64)
	if err != nil || n == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "jid must be a positive integer"})
	}

	j, ok := d.Job(dispatch.ID(n))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "job not found or already collected"})
	}
	resp := JobResponse{
		JID:         j.ID,
		State:       j.State.String(),
		Method:      string(j.Spec.EffectiveMethod()),
		URL:         j.Spec.URL,
		SubmittedAt: j.SubmittedAt,
	}
	if j.Result != nil {
		code := j.Result.Code
		resp.Code = &code
	}
	return c.JSON(http.StatusOK, resp)
}

// HandlePerform handles POST /v1/perform
// Runs the request synchronously and returns its result; transport failures still answer 200 with a failure code
func (h *JobsHandler) HandlePerform(c echo.Context) error {
	var payload JobRequest
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed job: " + err.Error()})
	}
	spec, err := payload.Spec(h.allowFileFields)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	res, err := h.client.Perform(c.Request().Context(), spec)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, newResultResponse(res))
}

// HandleStats handles GET /v1/jobs/stats
func (h *JobsHandler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.client.Stats())
}

func (h *JobsHandler) dispatcher(c echo.Context) (*dispatch.Dispatcher, bool) {
	return h.client.Dispatcher(dispatch.Strategy(c.Param("family")))
}
