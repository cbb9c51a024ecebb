package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/metrics/mocks"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func newTestPool(config Config) *Pool {
	if config.Metrics == nil {
		config.Metrics = metrics.NewRegistry()
	}
	return New(config)
}

func collect(p *Pool) []Result {
	var results []Result
	for r := range p.Results() {
		results = append(results, r)
	}
	return results
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		config := Config{
			Size:       5,
			QueueSize:  100,
			MaxRetries: 3,
			RetryDelay: time.Second,
			RateLimit:  10,
			RateBurst:  2,
		}

		pool := newTestPool(config)

		assert.NotNil(t, pool)
		assert.Equal(t, config.QueueSize, cap(pool.jobs))
		assert.Equal(t, config.QueueSize, cap(pool.results))
		require.NotNil(t, pool.limiter)
		assert.Equal(t, 2, pool.limiter.Burst())
	})

	t.Run("applies minimums for empty configuration", func(t *testing.T) {
		pool := newTestPool(Config{})

		assert.Equal(t, 1, pool.config.Size)
		assert.Nil(t, pool.limiter)
		assert.NotNil(t, pool.ctx)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("runs every queued job before shutdown returns", func(t *testing.T) {
		pool := newTestPool(Config{Size: 3, QueueSize: 20})
		pool.Start(context.Background())

		jobs := make([]*MockJob, 20)
		for i := range jobs {
			jobs[i] = NewMockJob(fmt.Sprintf("job-%d", i), "test", time.Millisecond, nil)
			require.NoError(t, pool.Submit(jobs[i]))
		}

		go func() {
			assert.NoError(t, pool.Shutdown())
		}()
		results := collect(pool)

		assert.Len(t, results, 20)
		for i, job := range jobs {
			assert.Equal(t, int32(1), job.ExecutedCount(), "job %d", i)
		}
	})

	t.Run("handles multiple start and shutdown calls", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1})

		pool.Start(context.Background())
		pool.Start(context.Background())

		go pool.Wait()
		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("shutdown without start closes results", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1})
		require.NoError(t, pool.Shutdown())

		_, ok := <-pool.Results()
		assert.False(t, ok)
	})
}

func TestJobSubmission(t *testing.T) {
	t.Run("rejects jobs when the queue is full", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1})

		require.NoError(t, pool.Submit(NewMockJob("a", "test", 0, nil)))
		err := pool.Submit(NewMockJob("b", "test", 0, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is full")

		pool.Start(context.Background())
		go pool.Wait()
		require.NoError(t, pool.Shutdown())
	})

	t.Run("rejects jobs after shutdown", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1})
		pool.Start(context.Background())
		go pool.Wait()
		require.NoError(t, pool.Shutdown())

		err := pool.Submit(NewMockJob("late", "test", 0, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shut down")
	})
}

func TestErrorHandling(t *testing.T) {
	t.Run("retries failed jobs up to the limit", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
		pool.Start(context.Background())

		job := NewMockJob("error-job", "error", 0, errors.New("execution failed"))
		require.NoError(t, pool.Submit(job))

		go func() { _ = pool.Shutdown() }()
		results := collect(pool)

		require.Len(t, results, 1)
		assert.EqualError(t, results[0].Error, "execution failed")
		assert.Equal(t, 2, results[0].Retries)
		assert.Equal(t, int32(3), job.ExecutedCount())
	})

	t.Run("recovers panics into results", func(t *testing.T) {
		pool := newTestPool(Config{Size: 2, QueueSize: 2, MaxRetries: 3})
		pool.Start(context.Background())

		require.NoError(t, pool.Submit(NewFuncJob("boom", "panic", func(context.Context) error {
			panic("kaboom")
		})))
		require.NoError(t, pool.Submit(NewMockJob("fine", "test", 0, nil)))

		go func() { _ = pool.Shutdown() }()
		results := collect(pool)

		require.Len(t, results, 2)
		var panicErr *PanicError
		found := false
		for _, r := range results {
			if r.JobID == "boom" {
				found = true
				require.True(t, errors.As(r.Error, &panicErr))
				assert.Equal(t, "kaboom", panicErr.Value)
				assert.Equal(t, 0, r.Retries)
			} else {
				assert.NoError(t, r.Error)
			}
		}
		assert.True(t, found)
	})

	t.Run("parent cancellation fails queued jobs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pool := newTestPool(Config{Size: 1, QueueSize: 5})

		blocker := NewMockJob("blocker", "slow", time.Minute, nil)
		require.NoError(t, pool.Submit(blocker))
		for i := 0; i < 4; i++ {
			require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("queued-%d", i), "test", 0, nil)))
		}

		pool.Start(ctx)
		time.Sleep(20 * time.Millisecond)
		cancel()

		go func() { _ = pool.Shutdown() }()
		results := collect(pool)

		require.Len(t, results, 5)
		for _, r := range results {
			assert.ErrorIs(t, r.Error, context.Canceled, "job %s", r.JobID)
		}
	})
}

func TestRateLimiting(t *testing.T) {
	pool := newTestPool(Config{Size: 5, QueueSize: 10, RateLimit: 20, RateBurst: 1})
	pool.Start(context.Background())

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("rate-%d", i), "rate", 0, nil)))
	}
	go func() { _ = pool.Shutdown() }()
	results := collect(pool)
	elapsed := time.Since(start)

	assert.Len(t, results, 10)
	// 20/s with a burst of one spaces ten jobs at least 450ms apart in total.
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestConcurrentSubmission(t *testing.T) {
	const submitters = 5
	const perSubmitter = 20

	pool := newTestPool(Config{Size: 4, QueueSize: submitters * perSubmitter})
	pool.Start(context.Background())

	var wg sync.WaitGroup
	var accepted int32
	for s := 0; s < submitters; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				if pool.Submit(NewMockJob(fmt.Sprintf("%d-%d", s, i), "concurrent", 0, nil)) == nil {
					atomic.AddInt32(&accepted, 1)
				}
			}
		}(s)
	}
	wg.Wait()

	go func() { _ = pool.Shutdown() }()
	results := collect(pool)

	assert.Equal(t, int32(submitters*perSubmitter), accepted)
	assert.Len(t, results, submitters*perSubmitter)
}

func TestPoolMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockMetricsRegistry(ctrl)

	registry.EXPECT().Gauge("worker_pool_size", 2.0, gomock.Any()).Times(1)
	registry.EXPECT().Counter("jobs_submitted_total", metrics.Labels{"job_type": "probe"}).Times(2)
	registry.EXPECT().Counter("jobs_completed_total", metrics.Labels{"job_type": "probe", "status": "success"}).Times(1)
	registry.EXPECT().Counter("jobs_completed_total", metrics.Labels{"job_type": "probe", "status": "error"}).Times(1)
	registry.EXPECT().Counter("job_errors_total", metrics.Labels{"job_type": "probe"}).Times(1)
	registry.EXPECT().Histogram("job_duration_seconds", gomock.Any(), metrics.Labels{"job_type": "probe"}).Times(2)

	pool := New(Config{Size: 2, QueueSize: 2, Metrics: registry})
	pool.Start(context.Background())
	require.NoError(t, pool.Submit(NewMockJob("ok", "probe", 0, nil)))
	require.NoError(t, pool.Submit(NewMockJob("bad", "probe", 0, errors.New("fail"))))

	go func() { _ = pool.Shutdown() }()
	assert.Len(t, collect(pool), 2)
}

func TestFuncJob(t *testing.T) {
	var called bool
	job := NewFuncJob("id-1", "func", func(ctx context.Context) error {
		called = true
		return ctx.Err()
	})

	assert.Equal(t, "id-1", job.ID())
	assert.Equal(t, "func", job.Type())
	assert.NoError(t, job.Execute(context.Background()))
	assert.True(t, called)
}
