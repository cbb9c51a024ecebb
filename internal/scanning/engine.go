package scanning

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/workers"
)

const (
	defaultMaxWorkers     = 100
	defaultAcquireTimeout = 30 * time.Second
	probeJobType          = "probe"
)

// Observer is notified about scan lifecycle events.
type Observer interface {
	ScanStarted(scanID string, req ScanRequest, resolvedIP string)
	ScanCompleted(result *ScanResult)
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	ConnectTimeout time.Duration
	BannerTimeout  time.Duration
	// MaxWorkers caps the per-scan pool regardless of requested threads.
	MaxWorkers int
	// RateLimit throttles dials per scan, in probes per second. Zero disables.
	RateLimit float64
	RateBurst int
	// AcquireTimeout bounds the wait for a free scan slot.
	AcquireTimeout time.Duration

	Resolver  Resolver
	Planner   *Planner
	Prober    PortProber
	Resources ResourceManager
	Recorder  metrics.ScanRecorder
	Metrics   metrics.MetricsRegistry
	Observer  Observer
	Logger    *logging.Logger
	Now       func() time.Time
}

// Engine runs scans.
type Engine struct {
	opts      Options
	resolver  Resolver
	planner   *Planner
	prober    PortProber
	resources ResourceManager
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine creates an engine from opts.
func NewEngine(opts Options) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	e := &Engine{
		opts:      opts,
		resolver:  opts.Resolver,
		planner:   opts.Planner,
		prober:    opts.Prober,
		resources: opts.Resources,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if e.resolver == nil {
		e.resolver = NewSystemResolver(0)
	}
	if e.planner == nil {
		e.planner = NewPlanner()
	}
	if e.prober == nil {
		e.prober = NewProber(opts.ConnectTimeout, opts.BannerTimeout)
	}
	if e.resources == nil {
		e.resources = NewSlotManager(10)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	e.logger = e.logger.WithComponent("scanner")
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Resources returns the manager that caps concurrent scans.
func (e *Engine) Resources() ResourceManager {
	return e.resources
}

// Resolve resolves target with the engine's resolver without scanning.
func (e *Engine) Resolve(ctx context.Context, target string) (string, error) {
	return e.resolver.Resolve(ctx, target)
}

// Scan validates req, resolves the target and probes the requested range.
// Errors carry UNRESOLVABLE_TARGET, INVALID_REQUEST, RESOURCE_EXHAUSTED or
// SCAN_EXECUTION codes.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ip, err := e.resolver.Resolve(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	scanID := uuid.New().String()[:8]
	logger := e.logger.WithScanID(scanID)

	acquireCtx, cancel := context.WithTimeout(ctx, e.opts.AcquireTimeout)
	err = e.resources.Acquire(acquireCtx, scanID, req.Target)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrScanExecution(req.Target, ctx.Err())
		}
		return nil, err
	}
	defer e.resources.Release(scanID)

	if e.opts.Recorder != nil {
		e.opts.Recorder.ScanStarted(req.Traversal)
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ScanStarted(scanID, req, ip)
	}

	logger.InfoScan("Starting scan", req.Target,
		"resolved_ip", ip,
		"port_range", portRange(req),
		"traversal", req.Traversal,
		"threads", req.Threads)

	startedAt := e.now()
	clock := time.Now()

	traversal, _ := ParseTraversal(req.Traversal)
	order := e.planner.Order(traversal, req.StartPort, req.EndPort)

	details, err := e.dispatch(ctx, req, ip, order)
	if err != nil {
		scanErr := errors.ErrScanExecution(req.Target, err).WithContext("scan_id", scanID)
		logger.ErrorScan("Scan failed", req.Target, err)
		if e.opts.Recorder != nil {
			e.opts.Recorder.ScanFinished(req.Traversal, string(scanErr.Code), 0, 0, 0)
		}
		return nil, scanErr
	}

	duration := roundTo2(time.Since(clock).Seconds())
	result := buildResult(scanID, req, ip, order, details, startedAt, duration)

	if e.opts.Recorder != nil {
		e.opts.Recorder.ScanFinished(req.Traversal, StatusCompleted, duration, result.TotalPortsScanned, result.OpenPortsCount)
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ScanCompleted(result)
	}

	logger.InfoScan("Scan completed", req.Target,
		"open_ports", result.OpenPortsCount,
		"risk_level", result.RiskLevel,
		"duration", duration)
	return result, nil
}

// dispatch probes every port in order on a pool sized for req and joins it
// before returning the open ports.
func (e *Engine) dispatch(ctx context.Context, req ScanRequest, ip string, order []int) ([]PortResult, error) {
	if len(order) == 0 {
		return []PortResult{}, nil
	}

	pool := workers.New(workers.Config{
		Size:      req.PoolSize(e.opts.MaxWorkers),
		QueueSize: len(order),
		RateLimit: e.opts.RateLimit,
		RateBurst: e.opts.RateBurst,
		Metrics:   e.opts.Metrics,
	})

	for _, port := range order {
		job := &probeJob{prober: e.prober, ip: ip, port: port, fingerprint: req.Fingerprint}
		if err := pool.Submit(job); err != nil {
			_ = pool.Shutdown()
			return nil, fmt.Errorf("queue probe for port %d: %w", port, err)
		}
	}

	pool.Start(ctx)
	shutdown := make(chan error, 1)
	go func() {
		shutdown <- pool.Shutdown()
	}()

	details := make([]PortResult, 0)
	var fault error
	for res := range pool.Results() {
		if res.Error != nil {
			if fault == nil {
				fault = res.Error
			}
			continue
		}
		if job, ok := res.Job.(*probeJob); ok && job.result != nil {
			details = append(details, *job.result)
		}
	}
	if err := <-shutdown; err != nil && fault == nil {
		fault = err
	}
	if fault == nil && ctx.Err() != nil {
		fault = ctx.Err()
	}
	if fault != nil {
		return nil, fault
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Port < details[j].Port
	})
	return details, nil
}

func buildResult(scanID string, req ScanRequest, ip string, order []int, details []PortResult, startedAt time.Time, duration float64) *ScanResult {
	openPorts := make([]int, 0, len(details))
	for _, d := range details {
		openPorts = append(openPorts, d.Port)
	}

	total := len(order)
	successRate := 0.0
	if total > 0 {
		successRate = roundTo2(float64(len(openPorts)) / float64(total) * 100)
	}
	preview := order
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}

	return &ScanResult{
		ScanID:             scanID,
		Target:             req.Target,
		ResolvedIP:         ip,
		Mode:               req.Mode,
		Traversal:          req.Traversal,
		Threads:            req.Threads,
		FingerprintEnabled: req.Fingerprint,
		PortRange:          portRange(req),
		StartPort:          req.StartPort,
		EndPort:            req.EndPort,
		OpenPorts:          openPorts,
		PortDetails:        details,
		TotalPortsScanned:  total,
		OpenPortsCount:     len(openPorts),
		ClosedPortsCount:   total - len(openPorts),
		RiskLevel:          AssessRisk(openPorts),
		ScanDuration:       duration,
		Timestamp:          startedAt,
		Date:               startedAt.Format(time.DateOnly),
		Time:               startedAt.Format(time.TimeOnly),
		Status:             StatusCompleted,
		TraversalStats: TraversalStats{
			TotalPortsScanned: total,
			SuccessRate:       successRate,
			MethodUsed:        req.Traversal,
			ScanOrderPreview:  append(make([]int, 0, len(preview)), preview...),
		},
	}
}

func portRange(req ScanRequest) string {
	return strconv.Itoa(req.StartPort) + "-" + strconv.Itoa(req.EndPort)
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// probeJob adapts one port probe to workers.Job.
type probeJob struct {
	prober      PortProber
	ip          string
	port        int
	fingerprint bool
	result      *PortResult
}

func (j *probeJob) Execute(ctx context.Context) error {
	j.result = j.prober.Probe(ctx, j.ip, j.port, j.fingerprint)
	return nil
}

func (j *probeJob) ID() string {
	return net.JoinHostPort(j.ip, strconv.Itoa(j.port))
}

func (j *probeJob) Type() string {
	return probeJobType
}
