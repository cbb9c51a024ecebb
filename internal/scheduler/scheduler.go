// Package scheduler runs recurring port scans for portscout. Jobs are
// registered from configuration or at runtime, fire on standard cron
// expressions and execute on a shared worker pool. Completed scans are
// recorded in the history store exactly like scans requested over the API.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
	"github.com/anstrom/portscout/internal/workers"
)

const (
	scheduledJobType = "scheduled_scan"

	defaultWorkers    = 2
	defaultQueueSize  = 32
	defaultMaxRetries = 2
	defaultRetryDelay = 30 * time.Second
)

// Scanner executes a single scan.
type Scanner interface {
	Scan(ctx context.Context, req scanning.ScanRequest) (*scanning.ScanResult, error)
}

// Recorder stores completed scans.
type Recorder interface {
	Append(ctx context.Context, user string, result *scanning.ScanResult)
}

// Config configures a Scheduler.
type Config struct {
	// User is the history key scheduled scans are recorded under.
	User string
	// Workers bounds how many scheduled scans run at once.
	Workers int
	// MaxRetries is how often a scan failing with a retryable error is
	// attempted again. Zero selects the default, negative disables retries.
	MaxRetries int
	RetryDelay time.Duration
	Logger     *logging.Logger
	Metrics    metrics.MetricsRegistry
}

// ScheduledJob is a snapshot of one registered job.
type ScheduledJob struct {
	ID             uuid.UUID            `json:"id"`
	Name           string               `json:"name"`
	CronExpression string               `json:"cron_expression"`
	Request        scanning.ScanRequest `json:"request"`
	Enabled        bool                 `json:"enabled"`
	Running        bool                 `json:"running"`
	Runs           int                  `json:"runs"`
	LastRun        time.Time            `json:"last_run,omitempty"`
	NextRun        time.Time            `json:"next_run,omitempty"`
	LastScanID     string               `json:"last_scan_id,omitempty"`
	LastError      string               `json:"last_error,omitempty"`

	cronID cron.EntryID
}

// Scheduler manages scheduled scans.
type Scheduler struct {
	cron    *cron.Cron
	scanner Scanner
	history Recorder
	config  Config
	logger  *logging.Logger
	metrics metrics.MetricsRegistry

	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	pool    *workers.Pool
	drained chan struct{}
}

// NewScheduler creates a scheduler that runs scans with scanner and records
// them in history.
func NewScheduler(scanner Scanner, history Recorder, cfg Config) *Scheduler {
	if cfg.User == "" {
		cfg.User = "default_user"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}

	return &Scheduler{
		cron:    cron.New(),
		scanner: scanner,
		history: history,
		config:  cfg,
		logger:  cfg.Logger.WithComponent("scheduler"),
		metrics: cfg.Metrics,
		jobs:    make(map[uuid.UUID]*ScheduledJob),
	}
}

// RequestFromConfig turns a configured schedule into a scan request. Unset
// numeric fields and the traversal keep the request defaults.
func RequestFromConfig(sc config.ScheduleConfig) scanning.ScanRequest {
	req := scanning.DefaultScanRequest()
	req.Target = sc.Target
	if sc.StartPort > 0 {
		req.StartPort = sc.StartPort
	}
	if sc.EndPort > 0 {
		req.EndPort = sc.EndPort
	}
	if sc.Traversal != "" {
		req.Traversal = sc.Traversal
	}
	if sc.Threads > 0 {
		req.Threads = sc.Threads
	}
	req.Fingerprint = sc.Fingerprint
	return req
}

// LoadFromConfig registers every configured schedule.
func (s *Scheduler) LoadFromConfig(schedules []config.ScheduleConfig) error {
	for i, sc := range schedules {
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i+1)
		}
		if _, err := s.AddJob(name, sc.Cron, RequestFromConfig(sc)); err != nil {
			return fmt.Errorf("schedule %q: %w", name, err)
		}
	}
	return nil
}

// AddJob registers a scan to run on cronExpr, a standard five-field
// expression or descriptor such as "@hourly".
func (s *Scheduler) AddJob(name, cronExpr string, req scanning.ScanRequest) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return uuid.Nil, errors.ErrInvalidRequest(fmt.Sprintf("Invalid cron expression '%s': %v", cronExpr, err))
	}
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	job := &ScheduledJob{
		ID:             uuid.New(),
		Name:           name,
		CronExpression: cronExpr,
		Request:        req,
		Enabled:        true,
		NextRun:        schedule.Next(time.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := job.ID
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.trigger(id) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	job.cronID = cronID
	s.jobs[id] = job

	s.logger.Info("Added scheduled scan",
		"job_id", id.String(),
		"name", name,
		"schedule", cronExpr,
		"target", req.Target)
	return id, nil
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return jobNotFound(id)
	}
	s.cron.Remove(job.cronID)
	delete(s.jobs, id)

	s.logger.Info("Removed scheduled scan", "job_id", id.String(), "name", job.Name)
	return nil
}

// EnableJob resumes a disabled job.
func (s *Scheduler) EnableJob(id uuid.UUID) error {
	return s.setEnabled(id, true)
}

// DisableJob keeps a job registered but skips its runs.
func (s *Scheduler) DisableJob(id uuid.UUID) error {
	return s.setEnabled(id, false)
}

func (s *Scheduler) setEnabled(id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return jobNotFound(id)
	}
	job.Enabled = enabled
	return nil
}

// GetJobs returns snapshots of all jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if s.running {
			if entry := s.cron.Entry(job.cronID); entry.Valid() {
				snapshot.NextRun = entry.Next
			}
		}
		jobs = append(jobs, snapshot)
	}
	slices.SortFunc(jobs, func(a, b ScheduledJob) int {
		return strings.Compare(a.Name, b.Name)
	})
	return jobs
}

// RunNow queues a job immediately, outside its schedule.
func (s *Scheduler) RunNow(id uuid.UUID) error {
	s.mu.RLock()
	_, ok := s.jobs[id]
	running := s.running
	s.mu.RUnlock()

	if !ok {
		return jobNotFound(id)
	}
	if !running {
		return fmt.Errorf("scheduler is not running")
	}
	if !s.trigger(id) {
		return fmt.Errorf("scheduled scan %s was not queued", id)
	}
	return nil
}

// Start starts the worker pool and the cron loop. Cancelling ctx stops
// in-flight scans.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.pool = workers.New(workers.Config{
		Size:       s.config.Workers,
		QueueSize:  defaultQueueSize,
		MaxRetries: s.config.MaxRetries,
		RetryDelay: s.config.RetryDelay,
		Metrics:    s.metrics,
	})
	s.pool.Start(ctx)
	s.drained = make(chan struct{})
	go s.collect(s.pool, s.drained)

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs), "workers", s.config.Workers)
	return nil
}

// Stop stops firing jobs, waits for queued scans to finish and releases
// the pool.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	pool, drained := s.pool, s.drained
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if err := pool.Shutdown(); err != nil {
		s.logger.Warn("Scheduler pool shutdown", "error", err)
	}
	<-drained

	s.logger.Info("Scheduler stopped")
}

// trigger queues one run of job id unless it is disabled or already
// running. It reports whether the run was queued.
func (s *Scheduler) trigger(id uuid.UUID) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || !job.Enabled || !s.running {
		s.mu.Unlock()
		return false
	}
	if job.Running {
		s.mu.Unlock()
		s.logger.Warn("Scheduled scan is already running, skipping", "job_id", id.String(), "name", job.Name)
		s.metrics.Counter("scheduled_scans_total", metrics.Labels{"status": "skipped"})
		return false
	}
	job.Running = true
	job.LastRun = time.Now()
	req, name := job.Request, job.Name
	pool := s.pool
	s.mu.Unlock()

	run := workers.NewFuncJob(id.String(), scheduledJobType, func(ctx context.Context) error {
		return s.execute(ctx, id, name, req)
	})
	if err := pool.Submit(run); err != nil {
		s.logger.Error("Failed to queue scheduled scan", "job_id", id.String(), "name", name, "error", err)
		s.finish(id, err)
		return false
	}
	return true
}

// execute runs one scan. Errors worth retrying are returned to the pool;
// everything else is recorded on the job and swallowed.
func (s *Scheduler) execute(ctx context.Context, id uuid.UUID, name string, req scanning.ScanRequest) error {
	s.logger.InfoScan("Running scheduled scan", req.Target, "job_id", id.String(), "name", name)

	result, err := s.scanner.Scan(ctx, req)
	if err != nil {
		if errors.IsRetryable(err) {
			return err
		}
		s.mu.Lock()
		if job, ok := s.jobs[id]; ok {
			job.LastError = err.Error()
		}
		s.mu.Unlock()
		s.logger.ErrorScan("Scheduled scan failed", req.Target, err, "job_id", id.String())
		s.metrics.Counter("scheduled_scans_total", metrics.Labels{"status": "failed"})
		return nil
	}

	s.history.Append(ctx, s.config.User, result)

	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Runs++
		job.LastScanID = result.ScanID
		job.LastError = ""
	}
	s.mu.Unlock()
	s.metrics.Counter("scheduled_scans_total", metrics.Labels{"status": "completed"})
	return nil
}

// collect drains pool results until the pool shuts down.
func (s *Scheduler) collect(pool *workers.Pool, done chan<- struct{}) {
	defer close(done)
	for res := range pool.Results() {
		id, err := uuid.Parse(res.JobID)
		if err != nil {
			continue
		}
		if res.Error != nil {
			s.logger.WithError(res.Error).Error("Scheduled scan gave up", "job_id", res.JobID, "retries", res.Retries)
			s.metrics.Counter("scheduled_scans_total", metrics.Labels{"status": "failed"})
		}
		s.finish(id, res.Error)
	}
}

func (s *Scheduler) finish(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Running = false
	if err != nil {
		job.LastError = err.Error()
	}
}

func jobNotFound(id uuid.UUID) error {
	return errors.NewScanError(errors.CodeNotFound, "Scheduled job not found").WithContext("job_id", id.String())
}
