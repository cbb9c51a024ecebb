package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/history"
	"github.com/anstrom/portscout/internal/report"
	"github.com/anstrom/portscout/internal/scanning"
)

func seededStore(t *testing.T) *history.Store {
	t.Helper()
	store := newStore()
	ctx := context.Background()
	store.Append(ctx, "tester", sampleResult("scan_1", scanning.RiskSafe))
	store.Append(ctx, "tester", sampleResult("scan_2", scanning.RiskHigh, 23, 445))
	store.Append(ctx, "tester", sampleResult("scan_3", scanning.RiskMedium, 22))
	store.Append(ctx, "someone_else", sampleResult("scan_9", scanning.RiskLow, 8080))
	return store
}

func TestListHistory(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
		wantTotal  int
	}{
		{"defaults", "", http.StatusOK, []string{"scan_1", "scan_2", "scan_3"}, 3},
		{"paged", "?page=2&per_page=2", http.StatusOK, []string{"scan_3"}, 3},
		{"uncapped page size", "?per_page=5000", http.StatusOK, []string{"scan_1", "scan_2", "scan_3"}, 3},
		{"high risk", "?filter=high_risk", http.StatusOK, []string{"scan_2"}, 1},
		{"risk order", "?sort=risk_desc", http.StatusOK, []string{"scan_2", "scan_3", "scan_1"}, 3},
		{"bad page", "?page=abc", http.StatusBadRequest, nil, 0},
		{"zero page", "?page=0", http.StatusBadRequest, nil, 0},
		{"bad filter", "?filter=critical", http.StatusBadRequest, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, testDependencies(&MockScanner{}, seededStore(t)))

			rec := doRequest(t, router, http.MethodGet, "/api/v1/history"+tt.query, "")

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "INVALID_REQUEST", decodeBody[ErrorResponse](t, rec).Code)
				return
			}
			page := decodeBody[history.Page](t, rec)
			assert.Equal(t, "tester", page.User)
			assert.Equal(t, tt.wantTotal, page.Pagination.TotalItems)
			ids := make([]string, 0, len(page.History))
			for _, entry := range page.History {
				ids = append(ids, entry.ScanID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestGetAndDeleteScan(t *testing.T) {
	store := seededStore(t)
	router := newTestRouter(t, testDependencies(&MockScanner{}, store))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/history/scan_2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{23, 445}, decodeBody[scanning.ScanResult](t, rec).OpenPorts)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/history/scan_9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users' scans are invisible")
	assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/history/scan_2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Scan deleted successfully", decodeBody[MessageResponse](t, rec).Message)
	assert.Equal(t, 2, store.Len("tester"))

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/history/scan_2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, store.Len("tester"))
}

func TestClearHistory(t *testing.T) {
	store := seededStore(t)
	router := newTestRouter(t, testDependencies(&MockScanner{}, store))

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/history/clear", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "History cleared successfully", decodeBody[MessageResponse](t, rec).Message)
	assert.Zero(t, store.Len("tester"))
	assert.Equal(t, 1, store.Len("someone_else"))
	assert.Equal(t, 4, store.GlobalStats().TotalScans, "global counters survive a clear")
}

func TestGetStats(t *testing.T) {
	router := newTestRouter(t, testDependencies(&MockScanner{}, seededStore(t)))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[StatsResponse](t, rec)
	assert.Equal(t, "tester", stats.User)
	assert.Equal(t, 4, stats.TotalScans)
	assert.Equal(t, 4, stats.TotalOpenPorts)
	assert.Equal(t, 3, stats.History.TotalScans)
	assert.Equal(t, 3, stats.History.ScansToday)
}

func TestExportReport(t *testing.T) {
	body := `{"scan_id":"scan_7","target":"example.com","mode":"tcp","port_range":"1-100","open_ports":[22,3389]}`

	t.Run("json", func(t *testing.T) {
		router := newTestRouter(t, testDependencies(&MockScanner{}, newStore()))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan/export?format=json", body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="scan_report_scan_7.json"`, rec.Header().Get("Content-Disposition"))
		rep := decodeBody[report.Report](t, rec)
		assert.Equal(t, "scan_7", rep.ScanID)
		assert.Equal(t, report.Level("HIGH"), rep.RiskLevel)
		assert.Equal(t, 2, rep.TotalOpenPorts)
		assert.Equal(t, fixedNow, rep.GeneratedAt.UTC())
	})

	t.Run("text by default", func(t *testing.T) {
		router := newTestRouter(t, testDependencies(&MockScanner{}, newStore()))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan/export", body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "scan_report_scan_7.txt")
		assert.Contains(t, rec.Body.String(), "example.com")
	})

	t.Run("missing id uses history length", func(t *testing.T) {
		router := newTestRouter(t, testDependencies(&MockScanner{}, seededStore(t)))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan/export?format=json", `{"open_ports":[]}`)

		require.Equal(t, http.StatusOK, rec.Code)
		rep := decodeBody[report.Report](t, rec)
		assert.Equal(t, "scan_3", rep.ScanID)
		assert.Equal(t, "1-1024", rep.PortRange)
	})

	t.Run("unsupported format", func(t *testing.T) {
		router := newTestRouter(t, testDependencies(&MockScanner{}, newStore()))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan/export?format=pdf", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeBody[ErrorResponse](t, rec).Code)
	})
}
