package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/history"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// MockScanner is a mock implementation of Scanner.
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Scan(ctx context.Context, req scanning.ScanRequest) (*scanning.ScanResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*scanning.ScanResult)
	return result, args.Error(1)
}

func (m *MockScanner) Resolve(ctx context.Context, target string) (string, error) {
	args := m.Called(ctx, target)
	return args.String(0), args.Error(1)
}

// stubResolver answers from fixed tables.
type stubResolver struct {
	forward map[string]string
	reverse map[string]string
}

func (s stubResolver) Resolve(_ context.Context, target string) (string, error) {
	if ip, ok := s.forward[target]; ok {
		return ip, nil
	}
	return "", errors.ErrUnresolvableTarget(target, nil)
}

func (s stubResolver) Reverse(_ context.Context, ip string) (string, error) {
	if name, ok := s.reverse[ip]; ok {
		return name, nil
	}
	return "", errors.NewScanError(errors.CodeNotFound, "no PTR record")
}

func testDependencies(scanner Scanner, store HistoryStore) Dependencies {
	return Dependencies{
		Scanner: scanner,
		Resolver: stubResolver{
			forward: map[string]string{"example.com": "93.184.216.34", "93.184.216.34": "93.184.216.34"},
			reverse: map[string]string{"93.184.216.34": "example.com"},
		},
		History: store,
		User:    "tester",
		Logger:  logging.Discard(),
		Metrics: metrics.NewRegistry(),
		Now:     func() time.Time { return fixedNow },
	}
}

// newTestRouter mounts every route under /api/v1 behind the request id
// middleware, the way the server does.
func newTestRouter(t *testing.T, deps Dependencies) *mux.Router {
	t.Helper()
	hm := New(deps)
	t.Cleanup(func() { _ = hm.Close() })

	router := mux.NewRouter()
	router.Use(middleware.RequestID())
	hm.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sampleResult(id string, risk scanning.RiskLevel, ports ...int) *scanning.ScanResult {
	if ports == nil {
		ports = []int{}
	}
	return &scanning.ScanResult{
		ScanID:         id,
		Target:         "example.com",
		ResolvedIP:     "93.184.216.34",
		Mode:           scanning.ModeTCP,
		Traversal:      "bfs",
		PortRange:      "1-1024",
		StartPort:      1,
		EndPort:        1024,
		OpenPorts:      ports,
		OpenPortsCount: len(ports),
		RiskLevel:      risk,
		ScanDuration:   1.25,
		Timestamp:      fixedNow,
		Date:           fixedNow.Format(time.DateOnly),
		Status:         "completed",
	}
}

func newStore() *history.Store {
	return history.NewStore(history.WithLogger(logging.Discard()), history.WithClock(func() time.Time { return fixedNow }))
}
