package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/portscout/internal/errors"
)

// staleScanAfter is how long a scan may hold a slot before the manager
// reports itself unhealthy.
const staleScanAfter = 30 * time.Minute

// ResourceManager caps the number of scans that run at once.
type ResourceManager interface {
	// Acquire blocks until a slot is free for scanID or ctx is done.
	Acquire(ctx context.Context, scanID, target string) error

	// Release frees the slot held by scanID.
	Release(scanID string)

	// GetActiveScans returns the current number of active scans.
	GetActiveScans() int

	// GetAvailableSlots returns the number of free slots.
	GetAvailableSlots() int

	// IsHealthy reports whether the manager accepts work and no scan has
	// held its slot for an unreasonable time.
	IsHealthy() bool

	// Stats returns a point-in-time view of slot usage.
	Stats() ResourceStats

	// Close rejects further acquisitions.
	Close() error
}

// ActiveScan describes a scan holding a slot.
type ActiveScan struct {
	ScanID    string    `json:"scan_id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// ResourceStats is returned by ResourceManager.Stats.
type ResourceStats struct {
	Capacity       int          `json:"capacity"`
	ActiveScans    int          `json:"active_scans"`
	AvailableSlots int          `json:"available_slots"`
	Healthy        bool         `json:"healthy"`
	Scans          []ActiveScan `json:"scans"`
}

// SlotManager implements ResourceManager with a fixed number of slots.
type SlotManager struct {
	capacity int
	slots    chan struct{}
	active   map[string]ActiveScan
	mu       sync.RWMutex
	closed   bool
	now      func() time.Time
}

// NewSlotManager creates a manager with capacity slots.
func NewSlotManager(capacity int) *SlotManager {
	if capacity <= 0 {
		capacity = 1
	}
	return &SlotManager{
		capacity: capacity,
		slots:    make(chan struct{}, capacity),
		active:   make(map[string]ActiveScan),
		now:      time.Now,
	}
}

// Acquire implements ResourceManager.
func (m *SlotManager) Acquire(ctx context.Context, scanID, target string) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.NewScanError(errors.CodeResourceExhausted, "Scanner is shutting down")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeResourceExhausted,
			"No scan slot became available", target, err)
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return errors.WrapScanErrorWithTarget(errors.CodeResourceExhausted,
			"No scan slot became available", target, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		<-m.slots
		return errors.NewScanError(errors.CodeResourceExhausted, "Scanner is shutting down")
	}
	m.active[scanID] = ActiveScan{ScanID: scanID, Target: target, StartedAt: m.now()}
	return nil
}

// Release implements ResourceManager.
func (m *SlotManager) Release(scanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[scanID]; !ok {
		return
	}
	delete(m.active, scanID)
	select {
	case <-m.slots:
	default:
	}
}

// GetActiveScans implements ResourceManager.
func (m *SlotManager) GetActiveScans() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// GetAvailableSlots implements ResourceManager.
func (m *SlotManager) GetAvailableSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capacity - len(m.active)
}

// IsHealthy implements ResourceManager.
func (m *SlotManager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *SlotManager) healthyLocked() bool {
	if m.closed {
		return false
	}
	now := m.now()
	for _, scan := range m.active {
		if now.Sub(scan.StartedAt) > staleScanAfter {
			return false
		}
	}
	return true
}

// Stats implements ResourceManager.
func (m *SlotManager) Stats() ResourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scans := make([]ActiveScan, 0, len(m.active))
	for _, scan := range m.active {
		scans = append(scans, scan)
	}
	return ResourceStats{
		Capacity:       m.capacity,
		ActiveScans:    len(m.active),
		AvailableSlots: m.capacity - len(m.active),
		Healthy:        m.healthyLocked(),
		Scans:          scans,
	}
}

// Close implements ResourceManager. Scans already holding a slot keep it
// until they release it.
func (m *SlotManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
