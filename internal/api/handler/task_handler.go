package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/api/dto"
	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/storage"
	"github.com/gin-gonic/gin"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func (h *TaskHandler) taskID(c *gin.Context) (string, bool) {
	taskID := c.Param("task_id")
	if !taskIDPattern.MatchString(taskID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id is invalid"})
		return "", false
	}
	return taskID, true
}

// trackingConfig applies per-request overrides to the defaults
func trackingConfig(defaults progress.Config, opts dto.TrackOptions) (progress.Config, error) {
	cfg := defaults

	if opts.Mode != "" {
		mode, err := progress.ParseMode(opts.Mode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}

	if opts.ConnectTimeout != "" {
		d, err := time.ParseDuration(opts.ConnectTimeout)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid connect_timeout %q", opts.ConnectTimeout)
		}
		cfg.ConnectTimeout = d
		cfg.Channel.ConnectTimeout = d
	}

	if opts.Timeout != "" {
		d, err := time.ParseDuration(opts.Timeout)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid timeout %q", opts.Timeout)
		}
		cfg.Polling.Timeout = d
	}

	return cfg, nil
}

func (h *TaskHandler) startTracking(c *gin.Context, taskID string, opts dto.TrackOptions) (progress.Snapshot, bool) {
	cfg, err := trackingConfig(h.tracker.Defaults(), opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return progress.Snapshot{}, false
	}

	orch, err := h.tracker.Track(c.Request.Context(), taskID, cfg)
	if err != nil {
		h.logger.Error("Failed to start tracking", slog.String("task_id", taskID), slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrCanceled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to start tracking"})
		return progress.Snapshot{}, false
	}

	return orch.Snapshot(), true
}

// Convert handles POST /api/v1/tasks/convert
// Submits URLs for asynchronous conversion and starts tracking the returned task
func (h *TaskHandler) Convert(c *gin.Context) {
	var req dto.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, err := trackingConfig(h.tracker.Defaults(), req.Options); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.converter.SubmitSource(c.Request.Context(), docling.NewURLRequest(req.URLs...))
	if err != nil {
		h.logger.Error("Failed to submit conversion", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to submit conversion"})
		return
	}

	h.logger.Info("Conversion submitted",
		slog.String("task_id", task.TaskID),
		slog.Int("sources", len(req.URLs)),
	)

	snap, ok := h.startTracking(c, task.TaskID, req.Options)
	if !ok {
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":       task.TaskID,
		"task_status":   task.TaskStatus,
		"task_position": task.TaskPosition,
		"tracking":      dto.FromSnapshot(snap),
	})
}

// Track handles POST /api/v1/tasks/:task_id/track
// Starts tracking an already submitted task, tracking twice is a no-op
func (h *TaskHandler) Track(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}

	var req dto.TrackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	snap, ok := h.startTracking(c, taskID, req.TrackOptions)
	if !ok {
		return
	}

	c.JSON(http.StatusAccepted, dto.FromSnapshot(snap))
}

// GetTask handles GET /api/v1/tasks/:task_id
// Returns the live view of a tracked task, or its stored result once tracking ended
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}

	snap, err := h.tracker.Snapshot(taskID)
	if err == nil {
		c.JSON(http.StatusOK, dto.FromSnapshot(snap))
		return
	}

	if h.results != nil {
		rec, err := h.results.GetResult(c.Request.Context(), taskID)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"job_id": taskID, "resolved": true, "result": dto.FromRecord(*rec)})
			return
		}
		if !errors.Is(err, storage.ErrResultNotFound) {
			h.logger.Error("Failed to get stored result", slog.String("task_id", taskID), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get task"})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "task is not tracked"})
}

// WaitTask handles GET /api/v1/tasks/:task_id/wait?timeout=30s
// Blocks until the task resolves or the timeout elapses
func (h *TaskHandler) WaitTask(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}

	timeout := h.maxWait
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive duration"})
			return
		}
		timeout = min(d, h.maxWait)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	result, err := h.tracker.Wait(ctx, taskID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.FromResult(result))
	case errors.Is(err, domain.ErrNotTracked):
		c.JSON(http.StatusNotFound, gin.H{"error": "task is not tracked"})
	case errors.Is(err, context.DeadlineExceeded):
		snap, snapErr := h.tracker.Snapshot(taskID)
		if snapErr != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "task is not tracked"})
			return
		}
		c.JSON(http.StatusAccepted, dto.FromSnapshot(snap))
	default:
		h.logger.Warn("Wait aborted", slog.String("task_id", taskID), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wait aborted"})
	}
}

// CancelTask handles POST /api/v1/tasks/:task_id/cancel
// Stops tracking; the remote conversion itself keeps running
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}

	if err := h.tracker.Stop(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task is not tracked"})
			return
		}
		h.logger.Error("Failed to stop tracking", slog.String("task_id", taskID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel tracking"})
		return
	}

	h.logger.Info("Tracking canceled", slog.String("task_id", taskID))

	snap, err := h.tracker.Snapshot(taskID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"job_id": taskID, "resolved": true})
		return
	}
	c.JSON(http.StatusOK, dto.FromSnapshot(snap))
}

// GetDocument handles GET /api/v1/tasks/:task_id/result
// Proxies the converted document of a finished task
func (h *TaskHandler) GetDocument(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}

	doc, err := h.converter.Result(c.Request.Context(), taskID)
	if err != nil {
		if docling.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not available"})
			return
		}
		h.logger.Error("Failed to fetch result", slog.String("task_id", taskID), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch result"})
		return
	}

	c.Data(http.StatusOK, "application/json", doc)
}

// ListResults handles GET /api/v1/results
// Lists stored results, newest first, with cursor pagination
func (h *TaskHandler) ListResults(c *gin.Context) {
	if h.results == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "result history is disabled"})
		return
	}

	var req dto.ListResultsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	cursor, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	page, err := h.results.ListResults(c.Request.Context(), storage.Filter{
		Success:     req.Success,
		FinalStatus: req.FinalStatus,
		Source:      req.Source,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list results", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}

	out := make([]dto.ResultDTO, len(page.Records))
	for i, rec := range page.Records {
		out[i] = dto.FromRecord(rec)
	}

	c.JSON(http.StatusOK, dto.ListResultsResponse{
		Results:    out,
		NextCursor: page.NextCursor,
	})
}
