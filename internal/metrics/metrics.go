// Package metrics provides basic monitoring and metrics collection for portscout.
// It supports counters, gauges, and histograms with label support for tracking
// scan throughput and API behaviour.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     int64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.Add(name, 1, labels)
}

// Add increments a counter metric by delta.
func (r *Registry) Add(name string, delta float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += delta
		metric.Count++
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeCounter,
		Value:     delta,
		Count:     1,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics[makeKey(name, labels)] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric. The registry keeps the
// running sum in Value and the number of observations in Count.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += value
		metric.Count++
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeHistogram,
		Value:     value,
		Count:     1,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		m := *metric
		m.Labels = copyLabels(metric.Labels)
		result[key] = &m
	}
	return result
}

// Get returns a copy of a single metric, or nil.
func (r *Registry) Get(name string, labels Labels) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metric, ok := r.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	m := *metric
	m.Labels = copyLabels(metric.Labels)
	return &m
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// ScanStarted implements ScanRecorder.
func (r *Registry) ScanStarted(traversal string) {
	r.Counter(MetricScanStarted, Labels{LabelTraversal: traversal})
}

// ScanFinished implements ScanRecorder.
func (r *Registry) ScanFinished(traversal, status string, durationSeconds float64, portsScanned, openPorts int) {
	labels := Labels{LabelTraversal: traversal, LabelStatus: status}
	r.Counter(MetricScanTotal, labels)
	r.Histogram(MetricScanDuration, durationSeconds, Labels{LabelTraversal: traversal})
	r.Add(MetricPortsScanned, float64(portsScanned), Labels{LabelTraversal: traversal})
	r.Add(MetricOpenPorts, float64(openPorts), Labels{LabelTraversal: traversal})
}

// makeKey creates a unique key for a metric based on name and labels.
// Label keys are sorted so the same set always maps to the same key.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// SetDefault sets the default metrics registry.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	defaultRegistry.Counter(name, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	defaultRegistry.Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimer creates a new timer that reports to the default registry.
func NewTimer(name string, labels Labels) *Timer {
	return NewTimerFor(defaultRegistry, name, labels)
}

// NewTimerFor creates a timer that reports to registry.
func NewTimerFor(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop stops the timer and records the duration as a histogram.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	if t.registry != nil {
		t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	}
	return duration
}

// Predefined metric names for common operations.
const (
	// Scan metrics.
	MetricScanStarted  = "scan_started_total"
	MetricScanTotal    = "scan_total"
	MetricScanDuration = "scan_duration_seconds"
	MetricPortsScanned = "ports_scanned_total"
	MetricOpenPorts    = "open_ports_total"

	// History metrics.
	MetricHistoryEntries = "history_entries"
	MetricStorageErrors  = "storage_errors_total"

	// HTTP metrics.
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPResponseSize = "http_response_size_bytes"
	MetricHTTPErrors       = "http_errors_total"
	MetricWebSocketSent    = "websocket_messages_sent_total"
)

// Common label keys.
const (
	LabelTraversal = "traversal"
	LabelStatus    = "status"
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelOperation = "operation"
	LabelType      = "type"
)
