package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

type fakeScanner struct {
	mu       sync.Mutex
	calls    int
	requests []scanning.ScanRequest
	errs     []error
	block    chan struct{}
}

func (f *fakeScanner) Scan(ctx context.Context, req scanning.ScanRequest) (*scanning.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	var err error
	if call <= len(f.errs) {
		err = f.errs[call-1]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &scanning.ScanResult{ScanID: "sched000", Target: req.Target, OpenPorts: []int{22}}, nil
}

func (f *fakeScanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu      sync.Mutex
	users   []string
	results []*scanning.ScanResult
}

func (f *fakeRecorder) Append(_ context.Context, user string, result *scanning.ScanResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, user)
	f.results = append(f.results, result)
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func newTestScheduler(t *testing.T, scanner Scanner, recorder Recorder) (*Scheduler, *metrics.Registry) {
	t.Helper()
	registry := metrics.NewRegistry()
	s := NewScheduler(scanner, recorder, Config{
		User:       "scheduler",
		Workers:    1,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
		Logger:     logging.Discard(),
		Metrics:    registry,
	})
	t.Cleanup(s.Stop)
	return s, registry
}

func scanRequest(target string) scanning.ScanRequest {
	req := scanning.DefaultScanRequest()
	req.Target = target
	req.EndPort = 100
	return req
}

func waitIdle(t *testing.T, s *Scheduler, id uuid.UUID) ScheduledJob {
	t.Helper()
	var job ScheduledJob
	require.Eventually(t, func() bool {
		for _, j := range s.GetJobs() {
			if j.ID == id && !j.Running {
				job = j
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestAddJob(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})

	tests := []struct {
		name     string
		cronExpr string
		req      scanning.ScanRequest
		wantErr  bool
	}{
		{"five field expression", "0 3 * * *", scanRequest("10.0.0.1"), false},
		{"descriptor", "@hourly", scanRequest("10.0.0.2"), false},
		{"interval", "@every 5m", scanRequest("10.0.0.3"), false},
		{"bad expression", "every tuesday", scanRequest("10.0.0.4"), true},
		{"seconds field is not accepted", "0 0 3 * * *", scanRequest("10.0.0.5"), true},
		{"invalid request", "@daily", scanRequest(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.AddJob(tt.name, tt.cronExpr, tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))
				assert.Equal(t, uuid.Nil, id)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, id)
		})
	}

	jobs := s.GetJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "descriptor", jobs[0].Name)
	assert.Equal(t, "five field expression", jobs[1].Name)
	assert.Equal(t, "interval", jobs[2].Name)
	for _, job := range jobs {
		assert.True(t, job.Enabled)
		assert.False(t, job.NextRun.IsZero())
	}
}

func TestLoadFromConfig(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})

	err := s.LoadFromConfig([]config.ScheduleConfig{
		{Name: "nightly", Cron: "0 2 * * *", Target: "gw.lan", StartPort: 1, EndPort: 2000, Traversal: "dfs", Threads: 50, Fingerprint: true},
		{Cron: "@daily", Target: "10.0.0.9"},
	})
	require.NoError(t, err)

	jobs := s.GetJobs()
	require.Len(t, jobs, 2)

	nightly := jobs[0]
	assert.Equal(t, "nightly", nightly.Name)
	assert.Equal(t, "gw.lan", nightly.Request.Target)
	assert.Equal(t, 2000, nightly.Request.EndPort)
	assert.Equal(t, "dfs", nightly.Request.Traversal)
	assert.Equal(t, 50, nightly.Request.Threads)
	assert.True(t, nightly.Request.Fingerprint)

	unnamed := jobs[1]
	assert.Equal(t, "schedule-2", unnamed.Name)
	assert.Equal(t, scanning.DefaultStartPort, unnamed.Request.StartPort)
	assert.Equal(t, scanning.DefaultEndPort, unnamed.Request.EndPort)
	assert.Equal(t, string(scanning.TraversalBFS), unnamed.Request.Traversal)
	assert.False(t, unnamed.Request.Fingerprint)

	err = s.LoadFromConfig([]config.ScheduleConfig{{Name: "broken", Cron: "nope", Target: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule "broken"`)
}

func TestRemoveEnableDisable(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})
	id, err := s.AddJob("weekly", "@weekly", scanRequest("10.0.0.1"))
	require.NoError(t, err)

	require.NoError(t, s.DisableJob(id))
	assert.False(t, s.GetJobs()[0].Enabled)
	require.NoError(t, s.EnableJob(id))
	assert.True(t, s.GetJobs()[0].Enabled)

	require.NoError(t, s.RemoveJob(id))
	assert.Empty(t, s.GetJobs())

	missing := uuid.New()
	for name, fn := range map[string]func(uuid.UUID) error{
		"remove":  s.RemoveJob,
		"enable":  s.EnableJob,
		"disable": s.DisableJob,
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.IsNotFound(fn(missing)))
		})
	}
}

func TestRunNow(t *testing.T) {
	t.Run("records the scan in history", func(t *testing.T) {
		scanner := &fakeScanner{}
		recorder := &fakeRecorder{}
		s, registry := newTestScheduler(t, scanner, recorder)

		id, err := s.AddJob("adhoc", "@yearly", scanRequest("10.0.0.7"))
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.RunNow(id))

		job := waitIdle(t, s, id)
		assert.Equal(t, 1, job.Runs)
		assert.Equal(t, "sched000", job.LastScanID)
		assert.Empty(t, job.LastError)
		assert.False(t, job.LastRun.IsZero())

		require.Equal(t, 1, recorder.count())
		assert.Equal(t, "scheduler", recorder.users[0])
		assert.Equal(t, "10.0.0.7", recorder.results[0].Target)

		m := registry.Get("scheduled_scans_total", metrics.Labels{"status": "completed"})
		require.NotNil(t, m)
		assert.Equal(t, float64(1), m.Value)
	})

	t.Run("not running", func(t *testing.T) {
		s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})
		id, err := s.AddJob("adhoc", "@yearly", scanRequest("10.0.0.7"))
		require.NoError(t, err)
		assert.Error(t, s.RunNow(id))
	})

	t.Run("unknown job", func(t *testing.T) {
		s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})
		require.NoError(t, s.Start(context.Background()))
		assert.True(t, errors.IsNotFound(s.RunNow(uuid.New())))
	})

	t.Run("disabled job is skipped", func(t *testing.T) {
		scanner := &fakeScanner{}
		s, _ := newTestScheduler(t, scanner, &fakeRecorder{})
		id, err := s.AddJob("adhoc", "@yearly", scanRequest("10.0.0.7"))
		require.NoError(t, err)
		require.NoError(t, s.DisableJob(id))
		require.NoError(t, s.Start(context.Background()))

		assert.Error(t, s.RunNow(id))
		assert.Zero(t, scanner.callCount())
	})

	t.Run("overlapping run is skipped", func(t *testing.T) {
		scanner := &fakeScanner{block: make(chan struct{})}
		s, registry := newTestScheduler(t, scanner, &fakeRecorder{})
		id, err := s.AddJob("slow", "@yearly", scanRequest("10.0.0.7"))
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		require.NoError(t, s.RunNow(id))
		assert.Error(t, s.RunNow(id))
		close(scanner.block)

		waitIdle(t, s, id)
		assert.Equal(t, 1, scanner.callCount())
		m := registry.Get("scheduled_scans_total", metrics.Labels{"status": "skipped"})
		require.NotNil(t, m)
		assert.Equal(t, float64(1), m.Value)
	})
}

func TestScanFailures(t *testing.T) {
	t.Run("permanent failure is not retried", func(t *testing.T) {
		scanner := &fakeScanner{errs: []error{errors.ErrUnresolvableTarget("nowhere.lan", nil)}}
		recorder := &fakeRecorder{}
		s, _ := newTestScheduler(t, scanner, recorder)
		id, err := s.AddJob("broken", "@yearly", scanRequest("nowhere.lan"))
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.RunNow(id))

		job := waitIdle(t, s, id)
		assert.Equal(t, 1, scanner.callCount())
		assert.Contains(t, job.LastError, "nowhere.lan")
		assert.Zero(t, job.Runs)
		assert.Zero(t, recorder.count())
	})

	t.Run("exhausted slots are retried", func(t *testing.T) {
		busy := errors.NewScanError(errors.CodeResourceExhausted, "No scan slot became available")
		scanner := &fakeScanner{errs: []error{busy}}
		recorder := &fakeRecorder{}
		s, _ := newTestScheduler(t, scanner, recorder)
		id, err := s.AddJob("busy", "@yearly", scanRequest("10.0.0.8"))
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.RunNow(id))

		job := waitIdle(t, s, id)
		assert.Equal(t, 2, scanner.callCount())
		assert.Equal(t, 1, job.Runs)
		assert.Empty(t, job.LastError)
		assert.Equal(t, 1, recorder.count())
	})

	t.Run("retries run out", func(t *testing.T) {
		busy := errors.NewScanError(errors.CodeResourceExhausted, "No scan slot became available")
		scanner := &fakeScanner{errs: []error{busy, busy}}
		s, registry := newTestScheduler(t, scanner, &fakeRecorder{})
		id, err := s.AddJob("busy", "@yearly", scanRequest("10.0.0.8"))
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.RunNow(id))

		job := waitIdle(t, s, id)
		assert.Equal(t, 2, scanner.callCount())
		assert.Contains(t, job.LastError, "No scan slot")
		m := registry.Get("scheduled_scans_total", metrics.Labels{"status": "failed"})
		require.NotNil(t, m)
		assert.Equal(t, float64(1), m.Value)
	})
}

func TestNewScheduler_Retries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{"unset uses default", 0, defaultMaxRetries},
		{"negative disables", -1, 0},
		{"explicit", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(&fakeScanner{}, &fakeRecorder{}, Config{
				User:       "scheduler",
				MaxRetries: tt.maxRetries,
				Logger:     logging.Discard(),
				Metrics:    metrics.NewRegistry(),
			})
			assert.Equal(t, tt.want, s.config.MaxRetries)
			assert.Equal(t, defaultRetryDelay, s.config.RetryDelay)
		})
	}
}

func TestScanFailures_DefaultRetries(t *testing.T) {
	busy := errors.NewScanError(errors.CodeResourceExhausted, "No scan slot became available")
	scanner := &fakeScanner{errs: []error{busy, busy}}
	recorder := &fakeRecorder{}
	s := NewScheduler(scanner, recorder, Config{
		User:       "scheduler",
		RetryDelay: 10 * time.Millisecond,
		Logger:     logging.Discard(),
		Metrics:    metrics.NewRegistry(),
	})
	t.Cleanup(s.Stop)

	id, err := s.AddJob("busy", "@yearly", scanRequest("10.0.0.8"))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.RunNow(id))

	job := waitIdle(t, s, id)
	assert.Equal(t, 3, scanner.callCount())
	assert.Equal(t, 1, job.Runs)
	assert.Equal(t, 1, recorder.count())
	assert.Equal(t, []string{"scheduler"}, recorder.users)
}

func TestCronFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cron clock")
	}
	scanner := &fakeScanner{}
	recorder := &fakeRecorder{}
	s, _ := newTestScheduler(t, scanner, recorder)
	_, err := s.AddJob("tick", "@every 1s", scanRequest("10.0.0.1"))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeScanner{}, &fakeRecorder{})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
