// Package handlers provides HTTP request handlers for the portscout API.
// This file implements scan execution, target validation and host lookup.
package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

// Scanner runs scans and resolves targets.
type Scanner interface {
	Scan(ctx context.Context, req scanning.ScanRequest) (*scanning.ScanResult, error)
	Resolve(ctx context.Context, target string) (string, error)
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	scanner  Scanner
	resolver scanning.HostResolver
	geo      scanning.GeoLocator
	history  HistoryStore
	user     string
	defaults scanning.ScanRequest
	maxBody  int64
	logger   *logging.Logger
	metrics  metrics.MetricsRegistry
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(deps Dependencies) *ScanHandler {
	deps = deps.withDefaults()
	return &ScanHandler{
		scanner:  deps.Scanner,
		resolver: deps.Resolver,
		geo:      deps.Geo,
		history:  deps.History,
		user:     deps.User,
		defaults: deps.Defaults,
		maxBody:  deps.MaxRequestSize,
		logger:   deps.Logger.WithComponent("scan_handler"),
		metrics:  deps.Metrics,
	}
}

// ScanRequest is the body of POST /scan. The target may also be sent as
// "ip"; "target" wins when both are present.
type ScanRequest struct {
	scanning.ScanRequest
	IP string `json:"ip,omitempty"`
}

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	Target string `json:"target"`
}

// ValidateResponse reports whether a target resolves.
type ValidateResponse struct {
	Valid      bool   `json:"valid"`
	Target     string `json:"target,omitempty"`
	ResolvedIP string `json:"resolved_ip,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LookupRequest is the body of POST /lookup.
type LookupRequest struct {
	Input string `json:"input"`
}

// RunScan godoc
// @Summary Run a port scan
// @Description Resolves the target, probes the port range and records the result in history
// @Tags Scans
// @Accept json
// @Produce json
// @Param request body ScanRequest true "Scan parameters"
// @Success 200 {object} scanning.ScanResult
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /scan [post]
func (h *ScanHandler) RunScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	req := ScanRequest{ScanRequest: h.defaults}
	if err := parseJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		req.Target = req.IP
	}

	result, err := h.scanner.Scan(r.Context(), req.ScanRequest)
	if err != nil {
		h.metrics.Counter("api_scans_total", metrics.Labels{"status": string(errors.GetCode(err))})
		if errors.IsCode(err, errors.CodeScanExecution) {
			h.logger.ErrorScan("Scan failed", req.Target, err, "request_id", requestID)
			writeErrorMessage(w, r, err, "Scan failed: "+failureDetail(err))
			return
		}
		writeError(w, r, err)
		return
	}

	h.history.Append(r.Context(), h.user, result)
	h.metrics.Counter("api_scans_total", metrics.Labels{"status": result.Status})

	h.logger.InfoScan("Scan completed", result.Target,
		"request_id", requestID,
		"scan_id", result.ScanID,
		"open_ports", result.OpenPortsCount,
		"risk_level", result.RiskLevel)

	writeJSON(w, r, http.StatusOK, result)
}

// ValidateTarget godoc
// @Summary Validate a target
// @Description Resolves the target without probing any ports
// @Tags Scans
// @Accept json
// @Produce json
// @Param request body ValidateRequest true "Target to validate"
// @Success 200 {object} ValidateResponse
// @Failure 400 {object} ValidateResponse
// @Router /validate [post]
func (h *ScanHandler) ValidateTarget(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := parseJSON(r, &req, h.maxBody); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ValidateResponse{Error: errorMessage(err)})
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		writeJSON(w, r, http.StatusBadRequest, ValidateResponse{Error: "Target is required"})
		return
	}

	ip, err := h.scanner.Resolve(r.Context(), target)
	if err != nil {
		h.logger.Debug("Target did not resolve", "target", target, "error", err)
		writeJSON(w, r, http.StatusBadRequest, ValidateResponse{Target: target, Error: "Cannot resolve target"})
		return
	}

	message := "Target is valid"
	if ip != target {
		message = "Target resolved to " + ip
	}
	writeJSON(w, r, http.StatusOK, ValidateResponse{
		Valid:      true,
		Target:     target,
		ResolvedIP: ip,
		Message:    message,
	})
}

// LookupHost godoc
// @Summary Look up a host
// @Description Resolves a host name to its IPv4 address or an IP address to its PTR name
// @Tags Scans
// @Accept json
// @Produce json
// @Param request body LookupRequest true "Host name or IP address"
// @Success 200 {object} scanning.LookupResult
// @Failure 400 {object} ErrorResponse
// @Router /lookup [post]
func (h *ScanHandler) LookupHost(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := parseJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := scanning.Lookup(r.Context(), h.resolver, req.Input, scanning.WithGeoLocator(h.geo))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// failureDetail names what went wrong inside a SCAN_EXECUTION error,
// preferring the underlying cause over the generic message.
func failureDetail(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) && scanErr.Cause != nil {
		return scanErr.Cause.Error()
	}
	return errorMessage(err)
}
