// Package workers provides a bounded worker pool for portscout. A pool owns a
// fixed-size job queue and a fixed number of worker goroutines pulling from
// it. It supports optional token-bucket throttling, retries, panic recovery
// and a joining shutdown, and reports through the logging and metrics
// packages.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Job      Job
	Error    error
	Duration time.Duration
	Retries  int
}

// PanicError is returned in a Result when a job panics.
type PanicError struct {
	JobID string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.JobID, e.Value)
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout bounds how long Shutdown waits before cancelling
	// in-flight jobs. Zero waits indefinitely.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit float64
	// RateBurst is the token bucket size used with RateLimit.
	RateBurst int
	// Metrics receives pool metrics. Defaults to the package registry.
	Metrics metrics.MetricsRegistry
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config   Config
	jobs     chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	limiter  *rate.Limiter
	metrics  metrics.MetricsRegistry
	mu       sync.RWMutex
	started  bool
	closed   int32
	stopOnce sync.Once
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	registry := config.Metrics
	if registry == nil {
		registry = metrics.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: registry,
	}

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		pool.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return pool
}

// Start launches the workers. Jobs run under a context derived from parent,
// so cancelling parent aborts queued and in-flight work.
func (p *Pool) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if parent != nil {
		stop := context.AfterFunc(parent, p.cancel)
		go func() {
			<-p.ctx.Done()
			stop()
		}()
	}

	logging.Debug("Starting worker pool",
		"worker_count", p.config.Size,
		"queue_size", p.config.QueueSize,
		"rate_limit", p.config.RateLimit)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.metrics.Gauge("worker_pool_size", float64(p.config.Size), metrics.Labels{
		"component": "workers",
	})
}

// Submit adds a job to the queue without blocking.
func (p *Pool) Submit(job Job) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return fmt.Errorf("worker pool is shut down")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if atomic.LoadInt32(&p.closed) == 1 {
		return fmt.Errorf("worker pool is shut down")
	}

	select {
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	default:
	}

	select {
	case p.jobs <- job:
		p.metrics.Counter("jobs_submitted_total", metrics.Labels{
			"job_type": job.Type(),
		})
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Results returns the channel results are delivered on. It is closed once
// Shutdown has joined every worker.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, lets the workers drain the queue and waits
// for them to exit. Queued jobs are abandoned if the pool context has been
// cancelled.
func (p *Pool) Shutdown() error {
	var err error
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.closed, 1)

		p.mu.Lock()
		close(p.jobs)
		started := p.started
		p.mu.Unlock()

		if !started {
			p.cancel()
			close(p.results)
			return
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		if p.config.ShutdownTimeout > 0 {
			select {
			case <-done:
			case <-time.After(p.config.ShutdownTimeout):
				logging.Warn("Worker pool shutdown timeout, cancelling in-flight jobs")
				err = fmt.Errorf("worker pool shutdown timed out after %v", p.config.ShutdownTimeout)
				p.cancel()
				<-done
			}
		} else {
			<-done
		}

		p.cancel()
		close(p.results)
		logging.Debug("Worker pool shutdown completed")
	})
	return err
}

// Wait drains the results channel until the pool has shut down.
func (p *Pool) Wait() {
	for range p.results {
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			p.deliver(Result{JobID: job.ID(), JobType: job.Type(), Job: job, Error: p.ctx.Err()})
			continue
		}
		p.deliver(p.executeJob(id, job))
	}
}

func (p *Pool) deliver(result Result) {
	if result.Error != nil {
		p.metrics.Counter("job_errors_total", metrics.Labels{
			"job_type": result.JobType,
		})
	}
	p.results <- result
}

// executeJob runs a single job with rate limiting and retry logic.
func (p *Pool) executeJob(workerID int, job Job) Result {
	timer := metrics.NewTimerFor(p.metrics, "job_duration_seconds", metrics.Labels{
		"job_type": job.Type(),
	})
	defer timer.Stop()

	result := Result{JobID: job.ID(), JobType: job.Type(), Job: job}

	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			result.Error = err
			return result
		}
	}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		start := time.Now()
		err := p.safeExecute(job)
		result.Duration = time.Since(start)
		result.Retries = attempt
		result.Error = err

		if err == nil {
			p.metrics.Counter("jobs_completed_total", metrics.Labels{
				"job_type": job.Type(),
				"status":   "success",
			})
			return result
		}

		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			break
		}

		if attempt < p.config.MaxRetries {
			logging.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", err)

			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				result.Error = p.ctx.Err()
				return result
			}
		}
	}

	p.metrics.Counter("jobs_completed_total", metrics.Labels{
		"job_type": job.Type(),
		"status":   "error",
	})
	logging.Debug("Job failed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"retries", result.Retries,
		"error", result.Error,
		"worker_id", workerID)
	return result
}

func (p *Pool) safeExecute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Job panicked", "job_id", job.ID(), "job_type", job.Type(), "panic", r)
			err = &PanicError{JobID: job.ID(), Value: r}
		}
	}()

	jobCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	return job.Execute(jobCtx)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements Job.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements Job.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements Job.
func (j *FuncJob) Type() string {
	return j.jobType
}
