package scanning

import (
	"context"
	"strings"

	"github.com/anstrom/portscout/internal/errors"
)

// geoFailed replaces the location when the locator fails.
const geoFailed = "Geolocation lookup failed"

// LookupResult pairs a host name with its IPv4 address. Geolocation is only
// present when a GeoLocator is configured.
type LookupResult struct {
	Domain           string       `json:"domain"`
	IP               string       `json:"ip"`
	Geolocation      *GeoLocation `json:"geolocation,omitempty"`
	GeolocationError string       `json:"geolocation_error,omitempty"`
}

type lookupOptions struct {
	geo GeoLocator
}

// LookupOption adjusts a Lookup.
type LookupOption func(*lookupOptions)

// WithGeoLocator adds the location of the resolved address to the result.
// A nil locator is ignored.
func WithGeoLocator(g GeoLocator) LookupOption {
	return func(o *lookupOptions) { o.geo = g }
}

// Lookup resolves input in whichever direction makes sense. Host names are
// resolved forward. IP literals are resolved to their PTR name and fall back
// to the literal itself when no PTR record exists. A failed geolocation
// never fails the lookup.
func Lookup(ctx context.Context, r HostResolver, input string, opts ...LookupOption) (*LookupResult, error) {
	var o lookupOptions
	for _, opt := range opts {
		opt(&o)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.ErrInvalidRequest("Invalid input")
	}

	ip, err := r.Resolve(ctx, input)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeInvalidRequest, "Invalid input", err)
	}

	result := &LookupResult{Domain: input, IP: ip}
	if _, literal, _ := literalIPv4(input); literal {
		result.Domain = ip
		if name, err := r.Reverse(ctx, ip); err == nil && name != "" {
			result.Domain = name
		}
	}

	if o.geo != nil {
		loc, err := o.geo.Locate(ctx, ip)
		if err != nil {
			result.GeolocationError = geoFailed
		} else {
			result.Geolocation = loc
		}
	}
	return result, nil
}
