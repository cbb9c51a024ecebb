// Package handlers provides HTTP request handlers for the portscout API.
// This file exposes the configured scheduled scans.
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scheduler"
)

// JobScheduler is the subset of scheduler.Scheduler the API uses.
type JobScheduler interface {
	GetJobs() []scheduler.ScheduledJob
	RunNow(id uuid.UUID) error
}

var _ JobScheduler = (*scheduler.Scheduler)(nil)

// ScheduleListResponse lists the registered jobs.
type ScheduleListResponse struct {
	Schedules []scheduler.ScheduledJob `json:"schedules"`
	Total     int                      `json:"total"`
}

// ScheduleHandler handles schedule endpoints.
type ScheduleHandler struct {
	scheduler JobScheduler
	logger    *logging.Logger
	metrics   metrics.MetricsRegistry
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(deps Dependencies) *ScheduleHandler {
	deps = deps.withDefaults()
	return &ScheduleHandler{
		scheduler: deps.Scheduler,
		logger:    deps.Logger.WithComponent("schedule_handler"),
		metrics:   deps.Metrics,
	}
}

// ListSchedules godoc
// @Summary List scheduled scans
// @Tags Schedules
// @Produce json
// @Success 200 {object} ScheduleListResponse
// @Router /schedules [get]
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.ScheduledJob{}
	if h.scheduler != nil {
		jobs = h.scheduler.GetJobs()
	}
	writeJSON(w, r, http.StatusOK, ScheduleListResponse{Schedules: jobs, Total: len(jobs)})
}

// RunSchedule godoc
// @Summary Run a scheduled scan now
// @Description Queues the job outside its cron schedule. The scan runs asynchronously.
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /schedules/{id}/run [post]
func (h *ScheduleHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, errors.ErrInvalidRequest("Invalid schedule ID '"+raw+"'"))
		return
	}
	if h.scheduler == nil {
		writeError(w, r, errors.NewScanError(errors.CodeNotFound, "Scheduled job not found"))
		return
	}

	if err := h.scheduler.RunNow(id); err != nil {
		if errors.IsNotFound(err) {
			writeError(w, r, err)
			return
		}
		h.logger.Warn("Scheduled scan not queued", "job_id", id.String(), "error", err)
		writeError(w, r, errors.WrapScanError(errors.CodeResourceExhausted, "Scheduled scan could not be queued", err))
		return
	}

	h.metrics.Counter("api_schedule_runs_total", nil)
	writeJSON(w, r, http.StatusAccepted, MessageResponse{Message: "Scheduled scan queued"})
}
