// Package history keeps completed scans per user and derives the
// pagination, summary and dashboard statistics served by the API. A Store
// is the only owner of scan history; an optional Persister mirrors every
// mutation to durable storage.
package history

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/scanning"
)

// DefaultUser is the key scans are recorded under when none is configured.
const DefaultUser = "default_user"

const (
	defaultPage    = 1
	defaultPerPage = 10
	topN           = 5
)

// Filter selects scans by risk level.
type Filter string

// Filters accepted by List.
const (
	FilterAll        Filter = "all"
	FilterHighRisk   Filter = "high_risk"
	FilterMediumRisk Filter = "medium_risk"
	FilterLowRisk    Filter = "low_risk"
)

// Sort orders listed scans.
type Sort string

// Sort orders accepted by List.
const (
	SortDateDesc Sort = "date_desc"
	SortDateAsc  Sort = "date_asc"
	SortRiskDesc Sort = "risk_desc"
)

// Query selects one page of history.
type Query struct {
	Page    int    `json:"page" validate:"min=1"`
	PerPage int    `json:"per_page" validate:"min=1"`
	Filter  Filter `json:"filter" validate:"oneof=all high_risk medium_risk low_risk"`
	Sort    Sort   `json:"sort" validate:"oneof=date_desc date_asc risk_desc"`
}

// DefaultQuery returns the first page of all scans, newest first.
func DefaultQuery() Query {
	return Query{Page: defaultPage, PerPage: defaultPerPage, Filter: FilterAll, Sort: SortDateDesc}
}

var queryValidator = validator.New()

// Validate checks q and reports INVALID_REQUEST errors.
func (q Query) Validate() error {
	if err := queryValidator.Struct(q); err != nil {
		return errors.ErrInvalidRequest("Invalid history query: " + err.Error())
	}
	return nil
}

// Pagination describes where a page sits in the filtered history.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// PortCount is how often a port was found open.
type PortCount struct {
	Port    int    `json:"port"`
	Count   int    `json:"count"`
	Service string `json:"service"`
}

// ServiceCount is how often a service label was reported.
type ServiceCount struct {
	Service string `json:"service"`
	Count   int    `json:"count"`
}

// Summary aggregates a filtered history.
type Summary struct {
	TotalScans          int            `json:"total_scans"`
	TotalOpenPorts      int            `json:"total_open_ports"`
	HighRiskScans       int            `json:"high_risk_scans"`
	MediumRiskScans     int            `json:"medium_risk_scans"`
	AverageScanDuration float64        `json:"average_scan_duration"`
	MostCommonPorts     []PortCount    `json:"most_common_ports"`
	MostCommonServices  []ServiceCount `json:"most_common_services"`
}

// AppliedFilters echoes the filter and sort a page was built with.
type AppliedFilters struct {
	CurrentFilter Filter `json:"current_filter"`
	CurrentSort   Sort   `json:"current_sort"`
}

// Page is the result of List.
type Page struct {
	User       string                 `json:"user"`
	History    []*scanning.ScanResult `json:"history"`
	Pagination Pagination             `json:"pagination"`
	Summary    Summary                `json:"summary"`
	Filters    AppliedFilters         `json:"filters"`
}

// Stats are the dashboard figures for one user.
type Stats struct {
	ScansToday    int        `json:"scans_today"`
	TotalScans    int        `json:"total_scans"`
	ThreatsFound  int        `json:"threats_found"`
	SecurityScore int        `json:"security_score"`
	LastScan      *time.Time `json:"last_scan"`
}

// GlobalStats are process-wide counters updated on every append.
type GlobalStats struct {
	TotalScans     int        `json:"total_scans"`
	TotalOpenPorts int        `json:"total_open_ports"`
	TotalThreats   int        `json:"total_threats"`
	LastScan       *time.Time `json:"last_scan"`
}

// Instruments receives the retained entry count after each change and
// counts persistence failures.
type Instruments interface {
	SetHistoryEntries(count int)
	IncrementStorageErrors(operation string)
}

// Store is the in-memory scan history.
type Store struct {
	mu         sync.RWMutex
	entries    map[string][]*scanning.ScanResult
	global     GlobalStats
	maxEntries int

	persister Persister
	metrics   Instruments
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries caps the entries retained per user. The oldest entries are
// evicted first. Zero keeps everything.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithPersister mirrors every mutation to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithInstruments reports store metrics to m.
func WithInstruments(m Instruments) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string][]*scanning.ScanResult),
		logger:  logging.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("history")
	return s
}

// Load replaces the store contents with everything the persister holds and
// rebuilds the global counters from it.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	records, err := s.persister.LoadAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = make(map[string][]*scanning.ScanResult)
	s.global = GlobalStats{}
	for _, rec := range records {
		s.entries[rec.User] = append(s.entries[rec.User], rec.Result)
		s.countLocked(rec.Result)
	}
	total := s.totalLocked()
	s.mu.Unlock()

	s.reportSize(total)
	s.logger.Info("Loaded scan history", "entries", total)
	return nil
}

// Append records a completed scan for user and updates the global counters.
func (s *Store) Append(ctx context.Context, user string, result *scanning.ScanResult) {
	s.mu.Lock()
	s.entries[user] = append(s.entries[user], result)
	s.countLocked(result)

	var evicted []*scanning.ScanResult
	if s.maxEntries > 0 && len(s.entries[user]) > s.maxEntries {
		n := len(s.entries[user]) - s.maxEntries
		evicted = slices.Clone(s.entries[user][:n])
		s.entries[user] = slices.Clone(s.entries[user][n:])
	}
	total := s.totalLocked()
	s.mu.Unlock()

	s.reportSize(total)
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, user, result); err != nil {
		s.storageFailed("save", "Failed to persist scan", err, "scan_id", result.ScanID)
	}
	for _, old := range evicted {
		if err := s.persister.Delete(ctx, user, old.ScanID); err != nil {
			s.storageFailed("delete", "Failed to evict scan", err, "scan_id", old.ScanID)
		}
	}
}

// List returns one page of user's history together with the summary of the
// filtered set.
func (s *Store) List(user string, q Query) (*Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	filtered := filter(s.entries[user], q.Filter)
	s.mu.RUnlock()

	sortEntries(filtered, q.Sort)

	// Any page size is accepted, so bounds are derived without multiplying
	// past the collection size.
	total := len(filtered)
	totalPages := 0
	if total > 0 {
		totalPages = (total-1)/q.PerPage + 1
	}
	page := make([]*scanning.ScanResult, 0)
	if q.Page <= totalPages {
		start := (q.Page - 1) * q.PerPage
		page = append(page, filtered[start:start+min(q.PerPage, total-start)]...)
	}

	return &Page{
		User:    user,
		History: page,
		Pagination: Pagination{
			Page:       q.Page,
			PerPage:    q.PerPage,
			TotalItems: total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
			HasPrev:    q.Page > 1,
		},
		Summary: summarize(filtered),
		Filters: AppliedFilters{CurrentFilter: q.Filter, CurrentSort: q.Sort},
	}, nil
}

// Get returns the scan with id, or a NOT_FOUND error.
func (s *Store) Get(user, id string) (*scanning.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries[user] {
		if entry.ScanID == id {
			return entry, nil
		}
	}
	return nil, errors.ErrScanNotFound(id)
}

// Delete removes the scan with id. An unknown id returns NOT_FOUND and
// changes nothing.
func (s *Store) Delete(ctx context.Context, user, id string) error {
	s.mu.Lock()
	entries := s.entries[user]
	idx := slices.IndexFunc(entries, func(r *scanning.ScanResult) bool { return r.ScanID == id })
	if idx < 0 {
		s.mu.Unlock()
		return errors.ErrScanNotFound(id)
	}
	s.entries[user] = slices.Delete(slices.Clone(entries), idx, idx+1)
	total := s.totalLocked()
	s.mu.Unlock()

	s.reportSize(total)
	if s.persister != nil {
		if err := s.persister.Delete(ctx, user, id); err != nil {
			s.storageFailed("delete", "Failed to delete persisted scan", err, "scan_id", id)
		}
	}
	return nil
}

// Clear drops every scan of user. Global counters are kept.
func (s *Store) Clear(ctx context.Context, user string) {
	s.mu.Lock()
	s.entries[user] = nil
	total := s.totalLocked()
	s.mu.Unlock()

	s.reportSize(total)
	if s.persister != nil {
		if err := s.persister.Clear(ctx, user); err != nil {
			s.storageFailed("clear", "Failed to clear persisted history", err, "user", user)
		}
	}
}

// Len returns the number of scans retained for user.
func (s *Store) Len(user string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[user])
}

// Summary aggregates user's whole history.
func (s *Store) Summary(user string) Summary {
	s.mu.RLock()
	entries := slices.Clone(s.entries[user])
	s.mu.RUnlock()
	return summarize(entries)
}

// Stats computes the dashboard figures for user.
func (s *Store) Stats(user string) Stats {
	s.mu.RLock()
	entries := slices.Clone(s.entries[user])
	s.mu.RUnlock()

	today := s.now().Format(time.DateOnly)
	stats := Stats{TotalScans: len(entries), SecurityScore: 100}
	safe := 0
	for _, e := range entries {
		if e.Date == today {
			stats.ScansToday++
		}
		if e.IsThreat() {
			stats.ThreatsFound++
		}
		if e.RiskLevel == scanning.RiskSafe {
			safe++
		}
		if stats.LastScan == nil || e.Timestamp.After(*stats.LastScan) {
			ts := e.Timestamp
			stats.LastScan = &ts
		}
	}
	if len(entries) > 0 {
		stats.SecurityScore = int(math.Round(100 * float64(safe) / float64(len(entries))))
	}
	return stats
}

// GlobalStats returns a snapshot of the process-wide counters.
func (s *Store) GlobalStats() GlobalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.global
	if g.LastScan != nil {
		ts := *g.LastScan
		g.LastScan = &ts
	}
	return g
}

func (s *Store) countLocked(result *scanning.ScanResult) {
	s.global.TotalScans++
	s.global.TotalOpenPorts += len(result.OpenPorts)
	ts := result.Timestamp
	s.global.LastScan = &ts
	if result.IsThreat() {
		s.global.TotalThreats++
	}
}

func (s *Store) totalLocked() int {
	total := 0
	for _, entries := range s.entries {
		total += len(entries)
	}
	return total
}

func (s *Store) reportSize(total int) {
	if s.metrics != nil {
		s.metrics.SetHistoryEntries(total)
	}
}

func (s *Store) storageFailed(operation, msg string, err error, fields ...any) {
	s.logger.ErrorStorage(msg, err, fields...)
	if s.metrics != nil {
		s.metrics.IncrementStorageErrors(operation)
	}
}

func filter(entries []*scanning.ScanResult, f Filter) []*scanning.ScanResult {
	out := make([]*scanning.ScanResult, 0, len(entries))
	for _, e := range entries {
		switch f {
		case FilterHighRisk:
			if e.RiskLevel != scanning.RiskHigh {
				continue
			}
		case FilterMediumRisk:
			if e.RiskLevel != scanning.RiskMedium {
				continue
			}
		case FilterLowRisk:
			if e.RiskLevel != scanning.RiskLow && e.RiskLevel != scanning.RiskSafe {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func sortEntries(entries []*scanning.ScanResult, order Sort) {
	switch order {
	case SortDateDesc:
		slices.SortStableFunc(entries, func(a, b *scanning.ScanResult) int {
			return b.Timestamp.Compare(a.Timestamp)
		})
	case SortDateAsc:
		slices.SortStableFunc(entries, func(a, b *scanning.ScanResult) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	case SortRiskDesc:
		slices.SortStableFunc(entries, func(a, b *scanning.ScanResult) int {
			return b.RiskLevel.Rank() - a.RiskLevel.Rank()
		})
	}
}

func summarize(entries []*scanning.ScanResult) Summary {
	summary := Summary{
		MostCommonPorts:    []PortCount{},
		MostCommonServices: []ServiceCount{},
	}
	if len(entries) == 0 {
		return summary
	}

	portTally := newTally[int]()
	serviceTally := newTally[string]()
	duration := 0.0

	for _, e := range entries {
		summary.TotalScans++
		summary.TotalOpenPorts += e.OpenPortsCount
		switch e.RiskLevel {
		case scanning.RiskHigh:
			summary.HighRiskScans++
		case scanning.RiskMedium:
			summary.MediumRiskScans++
		}
		duration += e.ScanDuration
		for _, port := range e.OpenPorts {
			portTally.add(port)
		}
		for _, d := range e.PortDetails {
			service := d.Service
			if service == "" {
				service = scanning.UnknownService
			}
			serviceTally.add(service)
		}
	}

	summary.AverageScanDuration = math.Round(duration/float64(len(entries))*100) / 100
	for _, c := range portTally.top(topN) {
		summary.MostCommonPorts = append(summary.MostCommonPorts, PortCount{
			Port:    c.key,
			Count:   c.count,
			Service: scanning.ServiceLabel(c.key),
		})
	}
	for _, c := range serviceTally.top(topN) {
		summary.MostCommonServices = append(summary.MostCommonServices, ServiceCount{
			Service: c.key,
			Count:   c.count,
		})
	}
	return summary
}

type counted[K comparable] struct {
	key   K
	count int
}

// tally counts keys and remembers the order they were first seen in, so
// ties rank by first appearance.
type tally[K comparable] struct {
	index map[K]int
	items []counted[K]
}

func newTally[K comparable]() *tally[K] {
	return &tally[K]{index: make(map[K]int)}
}

func (t *tally[K]) add(key K) {
	if i, ok := t.index[key]; ok {
		t.items[i].count++
		return
	}
	t.index[key] = len(t.items)
	t.items = append(t.items, counted[K]{key: key, count: 1})
}

func (t *tally[K]) top(n int) []counted[K] {
	items := slices.Clone(t.items)
	slices.SortStableFunc(items, func(a, b counted[K]) int {
		return b.count - a.count
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}
