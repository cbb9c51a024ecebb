// Package handlers provides HTTP request handlers for the portscout API.
// This file implements the scan history, statistics and report export
// endpoints.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/history"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/report"
	"github.com/anstrom/portscout/internal/scanning"
)

// HistoryStore is the subset of history.Store the API uses.
type HistoryStore interface {
	Append(ctx context.Context, user string, result *scanning.ScanResult)
	List(user string, q history.Query) (*history.Page, error)
	Get(user, id string) (*scanning.ScanResult, error)
	Delete(ctx context.Context, user, id string) error
	Clear(ctx context.Context, user string)
	Len(user string) int
	Stats(user string) history.Stats
	GlobalStats() history.GlobalStats
}

var _ HistoryStore = (*history.Store)(nil)

// StatsResponse is the process-wide counters plus the stats of the
// caller's history.
type StatsResponse struct {
	history.GlobalStats
	User    string        `json:"user"`
	History history.Stats `json:"history"`
}

// HistoryHandler handles history endpoints.
type HistoryHandler struct {
	history HistoryStore
	user    string
	maxBody int64
	now     func() time.Time
	logger  *logging.Logger
	metrics metrics.MetricsRegistry
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps Dependencies) *HistoryHandler {
	deps = deps.withDefaults()
	return &HistoryHandler{
		history: deps.History,
		user:    deps.User,
		maxBody: deps.MaxRequestSize,
		now:     deps.Now,
		logger:  deps.Logger.WithComponent("history_handler"),
		metrics: deps.Metrics,
	}
}

// ListHistory godoc
// @Summary List scan history
// @Description Returns one page of recorded scans with a summary of the filtered history
// @Tags History
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(10)
// @Param filter query string false "Risk filter" Enums(all, high_risk, medium_risk, low_risk)
// @Param sort query string false "Sort order" Enums(date_desc, date_asc, risk_desc)
// @Success 200 {object} history.Page
// @Failure 400 {object} ErrorResponse
// @Router /history [get]
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.history.List(h.user, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

// GetScan godoc
// @Summary Get a recorded scan
// @Tags History
// @Produce json
// @Param scan_id path string true "Scan ID"
// @Success 200 {object} scanning.ScanResult
// @Failure 404 {object} ErrorResponse
// @Router /history/{scan_id} [get]
func (h *HistoryHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	result, err := h.history.Get(h.user, mux.Vars(r)["scan_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// DeleteScan godoc
// @Summary Delete a recorded scan
// @Tags History
// @Produce json
// @Param scan_id path string true "Scan ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Router /history/{scan_id} [delete]
func (h *HistoryHandler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]
	if err := h.history.Delete(r.Context(), h.user, scanID); err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.Info("Scan deleted", "scan_id", scanID)
	h.metrics.Counter("history_deletes_total", nil)
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Scan deleted successfully"})
}

// ClearHistory godoc
// @Summary Clear scan history
// @Tags History
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /history/clear [delete]
func (h *HistoryHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.history.Clear(r.Context(), h.user)

	h.logger.Info("History cleared", "user", h.user)
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "History cleared successfully"})
}

// GetStats godoc
// @Summary Scan statistics
// @Description Process-wide counters plus statistics over the stored history
// @Tags History
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /stats [get]
func (h *HistoryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatsResponse{
		GlobalStats: h.history.GlobalStats(),
		User:        h.user,
		History:     h.history.Stats(h.user),
	})
}

// ExportReport godoc
// @Summary Export a scan report
// @Description Builds a report from a ScanResult shaped payload
// @Tags History
// @Accept json
// @Produce json,plain
// @Param format query string false "Report format" Enums(text, json) default(text)
// @Param request body report.Input true "Scan data"
// @Success 200 {object} report.Report
// @Failure 400 {object} ErrorResponse
// @Router /scan/export [post]
func (h *HistoryHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in report.Input
	if err := parseJSON(r, &in, h.maxBody); err != nil {
		writeError(w, r, err)
		return
	}

	rep := report.Build(in, h.history.Len(h.user), h.now())

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="scan_report_%s.%s"`, rep.ScanID, reportExtension(format)))
	w.WriteHeader(http.StatusOK)
	if err := rep.Render(w, format); err != nil {
		h.logger.Error("Failed to render report", "scan_id", rep.ScanID, "error", err)
	}
}

func reportExtension(f report.Format) string {
	if f == report.FormatJSON {
		return "json"
	}
	return "txt"
}

// parseHistoryQuery reads page, per_page, filter and sort, keeping the
// defaults for absent parameters.
func parseHistoryQuery(r *http.Request) (history.Query, error) {
	q := history.DefaultQuery()
	values := r.URL.Query()

	for key, dest := range map[string]*int{"page": &q.Page, "per_page": &q.PerPage} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.ErrInvalidRequest(fmt.Sprintf("Invalid %s parameter '%s'", key, raw))
		}
		*dest = n
	}
	if f := values.Get("filter"); f != "" {
		q.Filter = history.Filter(f)
	}
	if s := values.Get("sort"); s != "" {
		q.Sort = history.Sort(s)
	}
	return q, nil
}
