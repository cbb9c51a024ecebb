// Package handlers provides HTTP request handlers for the portscout API.
// This package implements the REST endpoints for scanning, scan history,
// reports, schedules and service health, plus the scan event WebSocket.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

// DefaultUser is the history key used when no user is configured.
const DefaultUser = "default_user"

// Dependencies are the collaborators shared by all handler groups. Logger,
// Metrics, Now and User fall back to defaults when unset.
type Dependencies struct {
	Scanner   Scanner
	Resolver  scanning.HostResolver
	Geo       scanning.GeoLocator
	History   HistoryStore
	Scheduler JobScheduler
	Resources scanning.ResourceManager
	Hub       *WebSocketHandler

	// User keys every history operation made through the API.
	User string
	// Defaults pre-fill fields a scan request omits.
	Defaults       scanning.ScanRequest
	MaxRequestSize int64
	Version        string

	Logger  *logging.Logger
	Metrics metrics.MetricsRegistry
	Now     func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Resolver == nil {
		d.Resolver = scanning.NewSystemResolver(0)
	}
	if d.User == "" {
		d.User = DefaultUser
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	if d.Defaults.StartPort == 0 {
		d.Defaults = scanning.DefaultScanRequest()
	}
	return d
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	health    *HealthHandler
	scan      *ScanHandler
	history   *HistoryHandler
	schedule  *ScheduleHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
// A hub is created when deps carries none.
func New(deps Dependencies) *HandlerManager {
	deps = deps.withDefaults()
	if deps.Hub == nil {
		deps.Hub = NewWebSocketHandler(deps.Logger, deps.Metrics)
	}

	return &HandlerManager{
		health:    NewHealthHandler(deps),
		scan:      NewScanHandler(deps),
		history:   NewHistoryHandler(deps),
		schedule:  NewScheduleHandler(deps),
		websocket: deps.Hub,
	}
}

// RegisterRoutes mounts every endpoint on api, which is expected to be the
// /api/v1 subrouter.
func (hm *HandlerManager) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/health", hm.health.Health).Methods(http.MethodGet)
	api.HandleFunc("/status", hm.health.Status).Methods(http.MethodGet)

	api.HandleFunc("/scan", hm.scan.RunScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/export", hm.history.ExportReport).Methods(http.MethodPost)
	api.HandleFunc("/validate", hm.scan.ValidateTarget).Methods(http.MethodPost)
	api.HandleFunc("/lookup", hm.scan.LookupHost).Methods(http.MethodPost)

	api.HandleFunc("/history", hm.history.ListHistory).Methods(http.MethodGet)
	// Registered before /history/{scan_id} so "clear" is not taken as an id.
	api.HandleFunc("/history/clear", hm.history.ClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/history/{scan_id}", hm.history.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/history/{scan_id}", hm.history.DeleteScan).Methods(http.MethodDelete)
	api.HandleFunc("/stats", hm.history.GetStats).Methods(http.MethodGet)

	api.HandleFunc("/schedules", hm.schedule.ListSchedules).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}/run", hm.schedule.RunSchedule).Methods(http.MethodPost)

	api.HandleFunc("/ws/scans", hm.websocket.ScanWebSocket).Methods(http.MethodGet)
}

// WebSocket returns the scan event hub.
func (hm *HandlerManager) WebSocket() *WebSocketHandler {
	return hm.websocket
}

// Close stops the scan event hub.
func (hm *HandlerManager) Close() error {
	return hm.websocket.Close()
}
