package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGeoURL is the ip-api.com JSON endpoint. The address is appended
// to it.
const DefaultGeoURL = "http://ip-api.com/json/"

// GeoLocation is the approximate location of an address.
type GeoLocation struct {
	Country string  `json:"country"`
	Region  string  `json:"region"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	ISP     string  `json:"isp"`
}

// GeoLocator locates IP addresses.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (*GeoLocation, error)
}

// HTTPGeoLocator queries an ip-api.com compatible service.
type HTTPGeoLocator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeoLocator creates a locator for baseURL. An empty baseURL selects
// DefaultGeoURL.
func NewHTTPGeoLocator(baseURL string, timeout time.Duration) *HTTPGeoLocator {
	if baseURL == "" {
		baseURL = DefaultGeoURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPGeoLocator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
}

// Locate looks up ip.
func (g *HTTPGeoLocator) Locate(ctx context.Context, ip string) (*GeoLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+url.PathEscape(ip), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build geolocation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation service returned %s", resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("geolocation of %s failed: %s", ip, body.Message)
	}

	return &GeoLocation{
		Country: body.Country,
		Region:  body.RegionName,
		City:    body.City,
		Lat:     body.Lat,
		Lon:     body.Lon,
		ISP:     body.ISP,
	}, nil
}
