// Package handlers provides HTTP request handlers for the portscout API.
// This file implements the health and status endpoints.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	serviceName     = "portscout"
)

// ClientCounter reports connected feed clients.
type ClientCounter interface {
	GetConnectedClients() int
}

// HealthHandler handles health and status endpoints.
type HealthHandler struct {
	resources scanning.ResourceManager
	hub       ClientCounter
	scheduler JobScheduler
	history   HistoryStore
	user      string
	version   string
	startTime time.Time
	now       func() time.Time
	logger    *logging.Logger
	metrics   metrics.MetricsRegistry
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
}

// StatusResponse represents the detailed status response.
type StatusResponse struct {
	HealthResponse
	Service          string                 `json:"service"`
	Resources        scanning.ResourceStats `json:"resources"`
	WebSocketClients int                    `json:"websocket_clients"`
	ScheduledJobs    int                    `json:"scheduled_jobs"`
	HistoryEntries   int                    `json:"history_entries"`
	Goroutines       int                    `json:"goroutines"`
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps Dependencies) *HealthHandler {
	deps = deps.withDefaults()
	h := &HealthHandler{
		resources: deps.Resources,
		scheduler: deps.Scheduler,
		history:   deps.History,
		user:      deps.User,
		version:   deps.Version,
		startTime: deps.Now(),
		now:       deps.Now,
		logger:    deps.Logger.WithComponent("health_handler"),
		metrics:   deps.Metrics,
	}
	if deps.Hub != nil {
		h.hub = deps.Hub
	}
	return h
}

// Health godoc
// @Summary Health check
// @Description Reports liveness and uptime
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested", "remote_addr", r.RemoteAddr)

	writeJSON(w, r, http.StatusOK, h.health(StatusHealthy))
	h.metrics.Counter("api_health_checks_total", metrics.Labels{"status": StatusHealthy})
}

// Status godoc
// @Summary Service status
// @Description Reports scan slot usage, feed clients and scheduled jobs. Returns 503 when the resource manager is unhealthy.
// @Tags System
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 503 {object} StatusResponse
// @Router /status [get]
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Status check requested", "remote_addr", r.RemoteAddr)

	status := StatusHealthy
	var resources scanning.ResourceStats
	if h.resources != nil {
		resources = h.resources.Stats()
		if !resources.Healthy {
			status = StatusUnhealthy
		}
	}

	response := StatusResponse{
		HealthResponse: h.health(status),
		Service:        serviceName,
		Resources:      resources,
		Goroutines:     runtime.NumGoroutine(),
	}
	if h.hub != nil {
		response.WebSocketClients = h.hub.GetConnectedClients()
	}
	if h.scheduler != nil {
		response.ScheduledJobs = len(h.scheduler.GetJobs())
	}
	if h.history != nil {
		response.HistoryEntries = h.history.Len(h.user)
	}

	statusCode := http.StatusOK
	if status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Resource manager unhealthy",
			"active_scans", resources.ActiveScans,
			"available_slots", resources.AvailableSlots)
	}

	writeJSON(w, r, statusCode, response)
	h.metrics.Counter("api_status_checks_total", metrics.Labels{"status": status})
}

func (h *HealthHandler) health(status string) HealthResponse {
	now := h.now()
	return HealthResponse{
		Status:    status,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Version:   h.version,
	}
}
