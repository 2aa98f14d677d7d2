// Package handler provides the HTTP endpoints for job management.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cyberkid042/distributed-job-queue/job"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
	"github.com/cyberkid042/distributed-job-queue/net/resp"
	"github.com/cyberkid042/distributed-job-queue/paging"
	"github.com/cyberkid042/distributed-job-queue/version"
)

// JobHandler handles job HTTP requests.
type JobHandler struct {
	svc *job.Service
	log *logger.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc *job.Service, log *logger.Logger) *JobHandler {
	return &JobHandler{svc: svc, log: log}
}

// RegisterRoutes mounts the job API on the router.
func (h *JobHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/jobs")
	{
		api.POST("", h.CreateJob)
		api.GET("", h.ListJobs)
		api.GET("/stats", h.GetStats)
		api.GET("/:id", h.GetJob)
		api.DELETE("/:id", h.CancelJob)
		api.POST("/:id/retry", h.RetryJob)
		api.GET("/:id/results", h.GetJobResults)
	}
}

// CreateJob accepts a new job and returns it before the publish
// outcome is known.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req job.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Fail(c.Writer, resp.BadRequest(err.Error()))
		return
	}

	created, err := h.svc.Submit(c.Request.Context(), &req)
	if err != nil {
		var verr *job.ValidationError
		if errors.As(err, &verr) {
			resp.Fail(c.Writer, resp.BadRequest("validation failed", verr.Fields))
			return
		}
		h.log.Error(c.Request.Context(), "Job submission failed", "error", err)
		resp.Fail(c.Writer, resp.InternalServer("failed to submit job"))
		return
	}

	resp.WithStatusCode(c.Writer, http.StatusAccepted, created)
}

// GetJob returns a job by its id.
func (h *JobHandler) GetJob(c *gin.Context) {
	found, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			resp.Fail(c.Writer, resp.NotFound("job not found"))
			return
		}
		h.log.Error(c.Request.Context(), "Job lookup failed", "job_id", c.Param("id"), "error", err)
		resp.Fail(c.Writer, resp.InternalServer("failed to load job"))
		return
	}
	resp.Success(c.Writer, found)
}

// ListJobs returns a cursor paged listing, optionally filtered by
// status and job type.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			resp.Fail(c.Writer, resp.BadRequest("invalid limit"))
			return
		}
		limit = n
	}

	status := strings.ToUpper(c.Query("status"))
	result, err := h.svc.List(c.Request.Context(), status, c.Query("type"), paging.Params{
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, job.ErrInvalidStatus):
			resp.Fail(c.Writer, resp.BadRequest(err.Error()))
		case errors.Is(err, paging.ErrInvalidCursor):
			resp.Fail(c.Writer, resp.BadRequest("invalid cursor"))
		default:
			h.log.Error(c.Request.Context(), "Job listing failed", "error", err)
			resp.Fail(c.Writer, resp.InternalServer("failed to list jobs"))
		}
		return
	}
	resp.Success(c.Writer, result)
}

// CancelJob cancels a pending job.
func (h *JobHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Cancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			resp.Fail(c.Writer, resp.NotFound("job not found"))
		case errors.Is(err, job.ErrJobNotCancellable):
			resp.Fail(c.Writer, resp.Conflict(err.Error()))
		default:
			h.log.Error(c.Request.Context(), "Job cancellation failed", "job_id", id, "error", err)
			resp.Fail(c.Writer, resp.InternalServer("failed to cancel job"))
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryJob manually requeues a failed job with retry budget left.
func (h *JobHandler) RetryJob(c *gin.Context) {
	id := c.Param("id")
	retried, err := h.svc.Retry(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			resp.Fail(c.Writer, resp.NotFound("job not found"))
		case errors.Is(err, job.ErrJobNotRetryable):
			resp.Fail(c.Writer, resp.Conflict(err.Error()))
		default:
			h.log.Error(c.Request.Context(), "Job retry failed", "job_id", id, "error", err)
			resp.Fail(c.Writer, resp.InternalServer("failed to retry job"))
		}
		return
	}
	resp.Success(c.Writer, retried)
}

// GetJobResults lists the recorded execution attempts for a job.
func (h *JobHandler) GetJobResults(c *gin.Context) {
	id := c.Param("id")
	results, err := h.svc.Results(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			resp.Fail(c.Writer, resp.NotFound("job not found"))
			return
		}
		h.log.Error(c.Request.Context(), "Job results lookup failed", "job_id", id, "error", err)
		resp.Fail(c.Writer, resp.InternalServer("failed to load job results"))
		return
	}
	resp.Success(c.Writer, results)
}

// GetStats returns queue statistics.
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.log.Error(c.Request.Context(), "Stats lookup failed", "error", err)
		resp.Fail(c.Writer, resp.InternalServer("failed to load stats"))
		return
	}
	resp.Success(c.Writer, stats)
}

// Health reports service liveness.
func (h *JobHandler) Health(c *gin.Context) {
	resp.Success(c.Writer, map[string]any{
		"status":  "ok",
		"version": version.GetVersionInfo(),
	})
}
