package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/scanning"
)

func TestRunScan(t *testing.T) {
	t.Run("records successful scan", func(t *testing.T) {
		scanner := &MockScanner{}
		store := newStore()
		router := newTestRouter(t, testDependencies(scanner, store))

		scanner.On("Scan", mock.Anything, mock.MatchedBy(func(req scanning.ScanRequest) bool {
			return req.Target == "example.com" && req.StartPort == 20 && req.EndPort == 25 &&
				req.Traversal == "bfs" && req.Fingerprint
		})).Return(sampleResult("scan_1", scanning.RiskMedium, 22), nil).Once()

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan",
			`{"target":"example.com","start_port":20,"end_port":25}`)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decodeBody[scanning.ScanResult](t, rec)
		assert.Equal(t, "scan_1", result.ScanID)
		assert.Equal(t, []int{22}, result.OpenPorts)
		assert.Equal(t, 1, store.Len("tester"))
		scanner.AssertExpectations(t)
	})

	t.Run("ip is accepted as target", func(t *testing.T) {
		scanner := &MockScanner{}
		router := newTestRouter(t, testDependencies(scanner, newStore()))

		scanner.On("Scan", mock.Anything, mock.MatchedBy(func(req scanning.ScanRequest) bool {
			return req.Target == "10.0.0.5"
		})).Return(sampleResult("scan_2", scanning.RiskSafe), nil).Once()

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan", `{"ip":"10.0.0.5"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		scanner.AssertExpectations(t)
	})

	tests := []struct {
		name       string
		scanErr    error
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{
			name:       "unresolvable target",
			scanErr:    errors.ErrUnresolvableTarget("nowhere.invalid", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNRESOLVABLE_TARGET",
			wantError:  "Cannot resolve hostname 'nowhere.invalid'",
		},
		{
			name:       "invalid request",
			scanErr:    errors.ErrInvalidRequest("Ports must be between 1 and 65535"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
			wantError:  "Ports must be between 1 and 65535",
		},
		{
			name:       "execution failure",
			scanErr:    errors.ErrScanExecution("example.com", stderrors.New("worker pool stopped")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "SCAN_EXECUTION",
			wantError:  "Scan failed: worker pool stopped",
		},
		{
			name:       "no free slot",
			scanErr:    errors.NewScanError(errors.CodeResourceExhausted, "No scan slot available"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "RESOURCE_EXHAUSTED",
			wantError:  "No scan slot available",
		},
		{
			name:       "uncoded error",
			scanErr:    context.Canceled,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "SCAN_EXECUTION",
			wantError:  "context canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &MockScanner{}
			store := newStore()
			router := newTestRouter(t, testDependencies(scanner, store))
			scanner.On("Scan", mock.Anything, mock.Anything).Return(nil, tt.scanErr).Once()

			rec := doRequest(t, router, http.MethodPost, "/api/v1/scan", `{"target":"example.com"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)
			assert.False(t, body.Timestamp.IsZero())
			assert.Zero(t, store.Len("tester"), "failed scans are not recorded")
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		scanner := &MockScanner{}
		router := newTestRouter(t, testDependencies(scanner, newStore()))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan", `{"target":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeBody[ErrorResponse](t, rec).Code)
		scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
	})

	t.Run("oversized body", func(t *testing.T) {
		scanner := &MockScanner{}
		deps := testDependencies(scanner, newStore())
		deps.MaxRequestSize = 16
		router := newTestRouter(t, deps)

		rec := doRequest(t, router, http.MethodPost, "/api/v1/scan",
			`{"target":"`+strings.Repeat("a", 64)+`"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, "too large")
	})
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		resolveTo  string
		resolveErr error
		wantStatus int
		want       ValidateResponse
	}{
		{
			name:       "hostname",
			body:       `{"target":"example.com"}`,
			resolveTo:  "93.184.216.34",
			wantStatus: http.StatusOK,
			want: ValidateResponse{
				Valid: true, Target: "example.com", ResolvedIP: "93.184.216.34",
				Message: "Target resolved to 93.184.216.34",
			},
		},
		{
			name:       "ip literal",
			body:       `{"target":"10.0.0.1"}`,
			resolveTo:  "10.0.0.1",
			wantStatus: http.StatusOK,
			want:       ValidateResponse{Valid: true, Target: "10.0.0.1", ResolvedIP: "10.0.0.1", Message: "Target is valid"},
		},
		{
			name:       "missing target",
			body:       `{"target":"   "}`,
			wantStatus: http.StatusBadRequest,
			want:       ValidateResponse{Error: "Target is required"},
		},
		{
			name:       "unresolvable",
			body:       `{"target":"nowhere.invalid"}`,
			resolveErr: errors.ErrUnresolvableTarget("nowhere.invalid", nil),
			wantStatus: http.StatusBadRequest,
			want:       ValidateResponse{Target: "nowhere.invalid", Error: "Cannot resolve target"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &MockScanner{}
			store := newStore()
			store.Append(context.Background(), "tester", sampleResult("seed0001", scanning.RiskMedium, 22, 25))
			before, beforeStats := store.Len("tester"), store.GlobalStats()

			router := newTestRouter(t, testDependencies(scanner, store))
			scanner.On("Resolve", mock.Anything, mock.Anything).Return(tt.resolveTo, tt.resolveErr).Maybe()

			rec := doRequest(t, router, http.MethodPost, "/api/v1/validate", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.want, decodeBody[ValidateResponse](t, rec))
			assert.Equal(t, before, store.Len("tester"))
			assert.Equal(t, beforeStats, store.GlobalStats())
			scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
		})
	}
}

func TestLookupHost(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       scanning.LookupResult
	}{
		{"forward", `{"input":"example.com"}`, http.StatusOK, scanning.LookupResult{Domain: "example.com", IP: "93.184.216.34"}},
		{"reverse", `{"input":"93.184.216.34"}`, http.StatusOK, scanning.LookupResult{Domain: "example.com", IP: "93.184.216.34"}},
		{"unknown", `{"input":"nowhere.invalid"}`, http.StatusBadRequest, scanning.LookupResult{}},
		{"empty", `{"input":""}`, http.StatusBadRequest, scanning.LookupResult{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, testDependencies(&MockScanner{}, newStore()))

			rec := doRequest(t, router, http.MethodPost, "/api/v1/lookup", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.want, decodeBody[scanning.LookupResult](t, rec))
				return
			}
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "Invalid input", body.Error)
			assert.Equal(t, "INVALID_REQUEST", body.Code)
		})
	}
}

type stubGeoLocator struct {
	err error
}

func (g stubGeoLocator) Locate(_ context.Context, ip string) (*scanning.GeoLocation, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &scanning.GeoLocation{Country: "United States", City: "Los Angeles", ISP: "Edgecast"}, nil
}

func TestLookupHost_Geolocation(t *testing.T) {
	tests := []struct {
		name      string
		geo       scanning.GeoLocator
		wantGeo   *scanning.GeoLocation
		wantError string
	}{
		{"no locator", nil, nil, ""},
		{"located", stubGeoLocator{}, &scanning.GeoLocation{Country: "United States", City: "Los Angeles", ISP: "Edgecast"}, ""},
		{"locator fails", stubGeoLocator{err: stderrors.New("timeout")}, nil, "Geolocation lookup failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDependencies(&MockScanner{}, newStore())
			deps.Geo = tt.geo
			router := newTestRouter(t, deps)

			rec := doRequest(t, router, http.MethodPost, "/api/v1/lookup", `{"input":"example.com"}`)

			require.Equal(t, http.StatusOK, rec.Code)
			got := decodeBody[scanning.LookupResult](t, rec)
			assert.Equal(t, "93.184.216.34", got.IP)
			assert.Equal(t, tt.wantGeo, got.Geolocation)
			assert.Equal(t, tt.wantError, got.GeolocationError)
		})
	}
}
