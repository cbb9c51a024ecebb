package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anstrom/portscout/internal/config"
)

const (
	clientTimeout   = 2 * time.Minute
	clientUserAgent = "portscout-cli/1.0"
	maxErrorBody    = 4096
)

// APIClient talks to a running portscout API server.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// APIError is a non-2xx answer of the API server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = http.StatusText(e.StatusCode)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("API error %d [%s] (request %s): %s", e.StatusCode, code, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error %d [%s]: %s", e.StatusCode, code, e.Message)
}

// NewAPIClient creates a client for baseURL, the server root without the
// /api/v1 prefix.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v1",
		httpClient: &http.Client{
			Timeout: clientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: clientUserAgent,
	}
}

// serverURL is the --server flag when set, else the configured API address.
func serverURL(cfg *config.Config, override string) string {
	if override != "" {
		if !strings.Contains(override, "://") {
			return "http://" + override
		}
		return override
	}
	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.API.Port)
}

// Get decodes the JSON answer of a GET request into out.
func (c *APIClient) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

// Post sends payload as JSON and decodes the answer into out.
func (c *APIClient) Post(ctx context.Context, endpoint string, payload, out any) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, out)
}

// Delete performs a DELETE request and decodes the answer into out.
func (c *APIClient) Delete(ctx context.Context, endpoint string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, endpoint, nil, out)
}

// PostRaw sends payload as JSON and returns the undecoded answer body.
func (c *APIClient) PostRaw(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	resp, err := c.do(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs the request and turns error statuses into *APIError. On
// success the caller owns the response body.
func (c *APIClient) do(ctx context.Context, method, endpoint string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	return nil, parseAPIError(resp)
}

func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Code = envelope.Code
		if envelope.RequestID != "" {
			apiErr.RequestID = envelope.RequestID
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
