package history

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/scanning"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func makeResult(id string, risk scanning.RiskLevel, at time.Time, ports ...int) *scanning.ScanResult {
	details := make([]scanning.PortResult, 0, len(ports))
	for _, p := range ports {
		details = append(details, scanning.PortResult{Port: p, Status: scanning.PortStatusOpen, Service: scanning.ServiceLabel(p)})
	}
	return &scanning.ScanResult{
		ScanID:         id,
		Target:         "10.0.0.1",
		OpenPorts:      append([]int{}, ports...),
		PortDetails:    details,
		OpenPortsCount: len(ports),
		RiskLevel:      risk,
		Timestamp:      at,
		Date:           at.Format(time.DateOnly),
		Time:           at.Format(time.TimeOnly),
		Status:         scanning.StatusCompleted,
	}
}

type fakePersister struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
	cleared []string
	records []Record
	err     error
}

func (f *fakePersister) Save(_ context.Context, _ string, result *scanning.ScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, result.ScanID)
	return f.err
}

func (f *fakePersister) Delete(_ context.Context, _ string, scanID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, scanID)
	return f.err
}

func (f *fakePersister) Clear(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, user)
	return f.err
}

func (f *fakePersister) LoadAll(context.Context) ([]Record, error) {
	return f.records, f.err
}

type fakeInstruments struct {
	entries int
	errors  map[string]int
}

func (f *fakeInstruments) SetHistoryEntries(count int) { f.entries = count }

func (f *fakeInstruments) IncrementStorageErrors(operation string) {
	if f.errors == nil {
		f.errors = make(map[string]int)
	}
	f.errors[operation]++
}

func newTestStore(opts ...Option) *Store {
	return NewStore(append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func ids(results []*scanning.ScanResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ScanID)
	}
	return out
}

func TestListPagination(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		store.Append(ctx, DefaultUser, makeResult(fmt.Sprintf("s%02d", i), scanning.RiskLow, baseTime.Add(time.Duration(i)*time.Minute), 80))
	}

	tests := []struct {
		name    string
		page    int
		perPage int
		size    int
		pages   int
		hasNext bool
		hasPrev bool
	}{
		{"first page", 1, 10, 10, 3, true, false},
		{"last partial page", 3, 10, 5, 3, false, true},
		{"past the end", 4, 10, 0, 3, false, true},
		{"exact fit", 1, 25, 25, 1, false, false},
		{"single item pages", 25, 1, 1, 25, false, true},
		{"unbounded page size", 1, math.MaxInt, 25, 1, false, false},
		{"far past the end", math.MaxInt, 10, 0, 3, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := DefaultQuery()
			q.Page, q.PerPage = tt.page, tt.perPage

			page, err := store.List(DefaultUser, q)
			require.NoError(t, err)
			assert.Len(t, page.History, tt.size)
			assert.NotNil(t, page.History)
			assert.Equal(t, 25, page.Pagination.TotalItems)
			assert.Equal(t, tt.pages, page.Pagination.TotalPages)
			assert.Equal(t, tt.hasNext, page.Pagination.HasNext)
			assert.Equal(t, tt.hasPrev, page.Pagination.HasPrev)
		})
	}
}

func TestListEmptyHistory(t *testing.T) {
	page, err := newTestStore().List(DefaultUser, DefaultQuery())
	require.NoError(t, err)

	assert.Equal(t, DefaultUser, page.User)
	assert.Empty(t, page.History)
	assert.Equal(t, 0, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNext)
	assert.Equal(t, Summary{MostCommonPorts: []PortCount{}, MostCommonServices: []ServiceCount{}}, page.Summary)
	assert.Equal(t, AppliedFilters{CurrentFilter: FilterAll, CurrentSort: SortDateDesc}, page.Filters)
}

func TestListFilterAndSort(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	store.Append(ctx, DefaultUser, makeResult("a", scanning.RiskLow, baseTime.Add(2*time.Hour), 80))
	store.Append(ctx, DefaultUser, makeResult("b", scanning.RiskHigh, baseTime, 3389))
	store.Append(ctx, DefaultUser, makeResult("c", scanning.RiskSafe, baseTime.Add(time.Hour)))
	store.Append(ctx, DefaultUser, makeResult("d", scanning.RiskMedium, baseTime.Add(3*time.Hour), 53))
	store.Append(ctx, DefaultUser, makeResult("e", scanning.RiskHigh, baseTime.Add(4*time.Hour), 445))

	tests := []struct {
		name     string
		filter   Filter
		sort     Sort
		expected []string
	}{
		{"newest first", FilterAll, SortDateDesc, []string{"e", "d", "a", "c", "b"}},
		{"oldest first", FilterAll, SortDateAsc, []string{"b", "c", "a", "d", "e"}},
		{"risk keeps insertion order within a rank", FilterAll, SortRiskDesc, []string{"b", "e", "d", "a", "c"}},
		{"high only", FilterHighRisk, SortDateAsc, []string{"b", "e"}},
		{"medium only", FilterMediumRisk, SortDateAsc, []string{"d"}},
		{"low includes safe", FilterLowRisk, SortDateAsc, []string{"c", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := DefaultQuery()
			q.Filter, q.Sort = tt.filter, tt.sort

			page, err := store.List(DefaultUser, q)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(page.History))
			assert.Equal(t, len(tt.expected), page.Summary.TotalScans)
		})
	}
}

func TestListRejectsInvalidQuery(t *testing.T) {
	store := newTestStore()
	for name, mutate := range map[string]func(*Query){
		"page zero":      func(q *Query) { q.Page = 0 },
		"per page zero":  func(q *Query) { q.PerPage = 0 },
		"unknown filter": func(q *Query) { q.Filter = "critical" },
		"unknown sort":   func(q *Query) { q.Sort = "name" },
	} {
		t.Run(name, func(t *testing.T) {
			q := DefaultQuery()
			mutate(&q)
			_, err := store.List(DefaultUser, q)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))
		})
	}
}

func TestSummary(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	first := makeResult("a", scanning.RiskMedium, baseTime, 22, 53, 80)
	first.ScanDuration = 1.25
	second := makeResult("b", scanning.RiskHigh, baseTime.Add(time.Minute), 80, 3389)
	second.ScanDuration = 2.5
	third := makeResult("c", scanning.RiskLow, baseTime.Add(2*time.Minute), 22, 443, 8080, 9999)
	third.ScanDuration = 0.5
	for _, r := range []*scanning.ScanResult{first, second, third} {
		store.Append(ctx, DefaultUser, r)
	}

	summary := store.Summary(DefaultUser)
	assert.Equal(t, 3, summary.TotalScans)
	assert.Equal(t, 9, summary.TotalOpenPorts)
	assert.Equal(t, 1, summary.HighRiskScans)
	assert.Equal(t, 1, summary.MediumRiskScans)
	assert.Equal(t, 1.42, summary.AverageScanDuration)

	assert.Equal(t, []PortCount{
		{Port: 22, Count: 2, Service: "SSH"},
		{Port: 80, Count: 2, Service: "HTTP"},
		{Port: 53, Count: 1, Service: "DNS"},
		{Port: 3389, Count: 1, Service: "RDP"},
		{Port: 443, Count: 1, Service: "HTTPS"},
	}, summary.MostCommonPorts)

	require.Len(t, summary.MostCommonServices, 5)
	assert.Equal(t, ServiceCount{Service: "SSH", Count: 2}, summary.MostCommonServices[0])
	assert.Equal(t, ServiceCount{Service: "HTTP", Count: 2}, summary.MostCommonServices[1])
	assert.Equal(t, ServiceCount{Service: "DNS", Count: 1}, summary.MostCommonServices[2])
}

func TestGetAndDelete(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	store.Append(ctx, DefaultUser, makeResult("keep", scanning.RiskLow, baseTime, 80))
	store.Append(ctx, DefaultUser, makeResult("drop", scanning.RiskLow, baseTime, 443))

	got, err := store.Get(DefaultUser, "keep")
	require.NoError(t, err)
	assert.Equal(t, "keep", got.ScanID)

	_, err = store.Get(DefaultUser, "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = store.Get("someone_else", "keep")
	assert.True(t, errors.IsNotFound(err))

	t.Run("unknown id leaves history unchanged", func(t *testing.T) {
		err := store.Delete(ctx, DefaultUser, "missing")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
		assert.Contains(t, err.Error(), "Scan not found")
		assert.Equal(t, 2, store.Len(DefaultUser))
	})

	t.Run("known id is removed", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, DefaultUser, "drop"))
		assert.Equal(t, 1, store.Len(DefaultUser))
		_, err := store.Get(DefaultUser, "drop")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestClearKeepsGlobalStats(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	store.Append(ctx, DefaultUser, makeResult("a", scanning.RiskHigh, baseTime, 21, 80))
	store.Append(ctx, DefaultUser, makeResult("b", scanning.RiskLow, baseTime.Add(time.Minute), 443))

	store.Clear(ctx, DefaultUser)
	assert.Equal(t, 0, store.Len(DefaultUser))

	global := store.GlobalStats()
	assert.Equal(t, 2, global.TotalScans)
	assert.Equal(t, 3, global.TotalOpenPorts)
	assert.Equal(t, 1, global.TotalThreats)
	require.NotNil(t, global.LastScan)
	assert.Equal(t, baseTime.Add(time.Minute), *global.LastScan)
}

func TestStats(t *testing.T) {
	today := baseTime
	store := newTestStore(WithClock(func() time.Time { return today }))
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		stats := store.Stats(DefaultUser)
		assert.Equal(t, Stats{SecurityScore: 100}, stats)
	})

	store.Append(ctx, DefaultUser, makeResult("a", scanning.RiskSafe, today.Add(-48*time.Hour)))
	store.Append(ctx, DefaultUser, makeResult("b", scanning.RiskSafe, today.Add(-time.Hour)))
	store.Append(ctx, DefaultUser, makeResult("c", scanning.RiskMedium, today.Add(-2*time.Hour), 53))

	stats := store.Stats(DefaultUser)
	assert.Equal(t, 2, stats.ScansToday)
	assert.Equal(t, 3, stats.TotalScans)
	assert.Equal(t, 1, stats.ThreatsFound)
	assert.Equal(t, 67, stats.SecurityScore)
	require.NotNil(t, stats.LastScan)
	assert.Equal(t, today.Add(-time.Hour), *stats.LastScan)
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	persister := &fakePersister{}
	store := newTestStore(WithMaxEntries(2), WithPersister(persister))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		store.Append(ctx, DefaultUser, makeResult(id, scanning.RiskLow, baseTime, 80))
	}

	page, err := store.List(DefaultUser, Query{Page: 1, PerPage: 10, Filter: FilterAll, Sort: SortDateAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(page.History))
	assert.Equal(t, []string{"a", "b", "c"}, persister.saved)
	assert.Equal(t, []string{"a"}, persister.deleted)
	assert.Equal(t, 3, store.GlobalStats().TotalScans)
}

func TestPersistenceFailuresAreNotFatal(t *testing.T) {
	persister := &fakePersister{err: fmt.Errorf("database is down")}
	instruments := &fakeInstruments{}
	store := newTestStore(WithPersister(persister), WithInstruments(instruments))
	ctx := context.Background()

	store.Append(ctx, DefaultUser, makeResult("a", scanning.RiskLow, baseTime, 80))
	store.Append(ctx, DefaultUser, makeResult("b", scanning.RiskLow, baseTime, 80))
	require.NoError(t, store.Delete(ctx, DefaultUser, "a"))
	store.Clear(ctx, DefaultUser)

	assert.Equal(t, 0, store.Len(DefaultUser))
	assert.Equal(t, 0, instruments.entries)
	assert.Equal(t, map[string]int{"save": 2, "delete": 1, "clear": 1}, instruments.errors)
}

func TestLoad(t *testing.T) {
	persister := &fakePersister{records: []Record{
		{User: DefaultUser, Result: makeResult("a", scanning.RiskHigh, baseTime, 3389)},
		{User: "ops", Result: makeResult("b", scanning.RiskLow, baseTime.Add(time.Minute), 80, 443)},
		{User: DefaultUser, Result: makeResult("c", scanning.RiskSafe, baseTime.Add(2*time.Minute))},
	}}
	instruments := &fakeInstruments{}
	store := newTestStore(WithPersister(persister), WithInstruments(instruments))

	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, 2, store.Len(DefaultUser))
	assert.Equal(t, 1, store.Len("ops"))
	assert.Equal(t, 3, instruments.entries)

	global := store.GlobalStats()
	assert.Equal(t, 3, global.TotalScans)
	assert.Equal(t, 3, global.TotalOpenPorts)
	assert.Equal(t, 1, global.TotalThreats)

	t.Run("load error is returned", func(t *testing.T) {
		failing := newTestStore(WithPersister(&fakePersister{err: fmt.Errorf("boom")}))
		assert.Error(t, failing.Load(context.Background()))
	})

	t.Run("no persister is a no-op", func(t *testing.T) {
		assert.NoError(t, newTestStore().Load(context.Background()))
	})
}

func TestConcurrentAppendAndRead(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Append(ctx, DefaultUser, makeResult(fmt.Sprintf("s%d", i), scanning.RiskLow, baseTime, 80))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = store.List(DefaultUser, DefaultQuery())
			_ = store.Stats(DefaultUser)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len(DefaultUser))
	assert.Equal(t, 20, store.GlobalStats().TotalScans)
}
