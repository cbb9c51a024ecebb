package scanning

// RiskLevel is the coarse exposure classification of a scan.
type RiskLevel string

// Risk levels, from least to most exposed.
const (
	RiskSafe   RiskLevel = "Safe"
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

var (
	highRiskPorts   = map[int]struct{}{21: {}, 23: {}, 135: {}, 139: {}, 445: {}, 1433: {}, 3389: {}}
	mediumRiskPorts = map[int]struct{}{25: {}, 53: {}, 110: {}, 143: {}, 993: {}, 995: {}}
)

// AssessRisk classifies a set of open ports.
func AssessRisk(openPorts []int) RiskLevel {
	medium := false
	for _, port := range openPorts {
		if _, ok := highRiskPorts[port]; ok {
			return RiskHigh
		}
		if _, ok := mediumRiskPorts[port]; ok {
			medium = true
		}
	}
	switch {
	case medium:
		return RiskMedium
	case len(openPorts) > 0:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Rank orders risk levels for sorting: High 3, Medium 2, Low 1, Safe 0.
// Unknown values rank with Safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}
