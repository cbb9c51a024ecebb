package scanning

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portscout/internal/errors"
)

// Scan modes. Both run TCP connect scans.
const (
	ModeTCP = "tcp"
	ModeSYN = "syn"
)

// StatusCompleted is the only status a returned ScanResult carries.
const StatusCompleted = "completed"

// PortStatusOpen is the only status a PortResult carries.
const PortStatusOpen = "open"

// NoBanner is stored when fingerprinting is on but the service sent nothing.
const NoBanner = "No banner"

// Request defaults applied when fields are omitted.
const (
	DefaultStartPort = 1
	DefaultEndPort   = 100
	DefaultThreads   = 50
	MaxThreads       = 100
	previewLength    = 10
)

// ScanRequest describes a single scan. It is not modified once a scan starts.
type ScanRequest struct {
	Target      string `json:"target" validate:"required"`
	StartPort   int    `json:"start_port" validate:"min=1,max=65535"`
	EndPort     int    `json:"end_port" validate:"min=1,max=65535,gtefield=StartPort"`
	Mode        string `json:"mode" validate:"oneof=tcp syn"`
	Traversal   string `json:"traversal" validate:"oneof=sequential bfs dfs adaptive"`
	Threads     int    `json:"threads" validate:"min=1"`
	Fingerprint bool   `json:"fingerprint"`
}

// DefaultScanRequest returns a request with every default filled in. Decoding
// JSON on top of it leaves omitted fields at their defaults.
func DefaultScanRequest() ScanRequest {
	return ScanRequest{
		StartPort:   DefaultStartPort,
		EndPort:     DefaultEndPort,
		Mode:        ModeTCP,
		Traversal:   string(TraversalBFS),
		Threads:     DefaultThreads,
		Fingerprint: true,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the request and returns an INVALID_REQUEST error naming the
// first offending field.
func (r *ScanRequest) Validate() error {
	r.Target = strings.TrimSpace(r.Target)
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	r.Traversal = strings.ToLower(strings.TrimSpace(r.Traversal))

	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.ErrInvalidRequest(describeFieldError(fe)).
			WithContext("field", fe.Field())
	}
	return errors.ErrInvalidRequest(err.Error())
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Field() {
	case "Target":
		return "Target IP address is required"
	case "StartPort", "EndPort":
		if fe.Tag() == "gtefield" {
			return "end_port must be greater than or equal to start_port"
		}
		return "Ports must be between 1 and 65535"
	case "Mode":
		return fmt.Sprintf("Invalid scan mode '%v'", fe.Value())
	case "Traversal":
		return fmt.Sprintf("Invalid traversal method '%v'", fe.Value())
	case "Threads":
		return "threads must be a positive integer"
	default:
		return fmt.Sprintf("invalid value for %s", fe.Field())
	}
}

// PoolSize is the number of workers a scan runs with.
func (r ScanRequest) PoolSize(maxWorkers int) int {
	if maxWorkers <= 0 || maxWorkers > MaxThreads {
		maxWorkers = MaxThreads
	}
	if r.Threads < maxWorkers {
		return r.Threads
	}
	return maxWorkers
}

// PortResult describes one open port.
type PortResult struct {
	Port    int     `json:"port"`
	Status  string  `json:"status"`
	Service string  `json:"service"`
	Banner  *string `json:"banner"`
}

// TraversalStats summarises the traversal a scan used.
type TraversalStats struct {
	TotalPortsScanned int     `json:"total_ports_scanned"`
	SuccessRate       float64 `json:"success_rate"`
	MethodUsed        string  `json:"method_used"`
	ScanOrderPreview  []int   `json:"scan_order_preview"`
}

// ScanResult is the outcome of a completed scan.
type ScanResult struct {
	ScanID             string         `json:"scan_id"`
	Target             string         `json:"target"`
	ResolvedIP         string         `json:"resolved_ip"`
	Mode               string         `json:"mode"`
	Traversal          string         `json:"traversal"`
	Threads            int            `json:"threads"`
	FingerprintEnabled bool           `json:"fingerprint_enabled"`
	PortRange          string         `json:"port_range"`
	StartPort          int            `json:"start_port"`
	EndPort            int            `json:"end_port"`
	OpenPorts          []int          `json:"open_ports"`
	PortDetails        []PortResult   `json:"port_details"`
	TotalPortsScanned  int            `json:"total_ports_scanned"`
	OpenPortsCount     int            `json:"open_ports_count"`
	ClosedPortsCount   int            `json:"closed_ports_count"`
	RiskLevel          RiskLevel      `json:"risk_level"`
	ScanDuration       float64        `json:"scan_duration"`
	Timestamp          time.Time      `json:"timestamp"`
	Date               string         `json:"date"`
	Time               string         `json:"time"`
	Status             string         `json:"status"`
	TraversalStats     TraversalStats `json:"traversal_stats"`
}

// IsThreat reports whether the scan counts towards threat statistics.
func (r *ScanResult) IsThreat() bool {
	return r.RiskLevel == RiskHigh || r.RiskLevel == RiskMedium
}
