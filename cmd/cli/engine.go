package cli

import (
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

// engineDeps are the optional collaborators of a scan engine.
type engineDeps struct {
	logger   *logging.Logger
	observer scanning.Observer
	recorder metrics.ScanRecorder
	registry metrics.MetricsRegistry
	seed     int64
}

// newEngine builds a scan engine from the scanning section of cfg. A
// non-zero deps.seed takes precedence over the configured seed.
func newEngine(cfg *config.Config, deps engineDeps) *scanning.Engine {
	sc := cfg.Scanning

	seed := sc.Seed
	if deps.seed != 0 {
		seed = deps.seed
	}
	deepScan := sc.AdaptiveDeepScan
	planner := scanning.NewPlanner(
		scanning.WithSeed(seed),
		scanning.WithDiscoveryHint(func() bool { return deepScan }),
	)

	opts := scanning.Options{
		ConnectTimeout: sc.ConnectTimeout,
		BannerTimeout:  sc.BannerTimeout,
		MaxWorkers:     sc.MaxWorkers,
		Resolver:       engineResolver(cfg),
		Planner:        planner,
		Resources:      scanning.NewSlotManager(sc.MaxConcurrentScans),
		Recorder:       deps.recorder,
		Metrics:        deps.registry,
		Observer:       deps.observer,
		Logger:         deps.logger,
	}
	if sc.RateLimit.Enabled {
		opts.RateLimit = sc.RateLimit.RequestsPerSecond
		opts.RateBurst = sc.RateLimit.BurstSize
	}
	return scanning.NewEngine(opts)
}

// defaultRequest is the scan request template derived from cfg.
func defaultRequest(cfg *config.Config) scanning.ScanRequest {
	req := scanning.DefaultScanRequest()
	if cfg.Scanning.DefaultTraversal != "" {
		req.Traversal = cfg.Scanning.DefaultTraversal
	}
	if cfg.Scanning.DefaultThreads > 0 {
		req.Threads = cfg.Scanning.DefaultThreads
	}
	return req
}

// geoLocator returns the configured geolocation service, or nil when
// lookups should not be located.
func geoLocator(cfg *config.Config) scanning.GeoLocator {
	geo := cfg.Scanning.Geolocation
	if !geo.Enabled {
		return nil
	}
	return scanning.NewHTTPGeoLocator(geo.URL, geo.Timeout)
}

// engineResolver queries the configured nameservers directly, or the system
// resolver when none are set.
func engineResolver(cfg *config.Config) scanning.HostResolver {
	return scanning.NewResolver(cfg.Scanning.Nameservers, cfg.Scanning.DNSTimeout)
}
