// Package report turns scan results into shareable reports. A report
// applies its own risk table, separate from the one the scanner records,
// and carries remediation advice for what was found.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/scanning"
)

// Level is a report risk level.
type Level string

// Report risk levels.
const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	defaultTarget    = "Unknown"
	defaultMode      = "tcp"
	defaultPortRange = "1-1024"
	unknownService   = "Unknown Service"
	neutralColor     = "#6c757d"
	maxAdvice        = 6

	// manyOpenPorts is the open port count above which an otherwise
	// unremarkable host is rated MEDIUM.
	manyOpenPorts = 5
)

var (
	highRiskPorts   = []int{21, 23, 135, 139, 445, 1433, 3389, 5432, 5900, 5901}
	mediumRiskPorts = []int{22, 25, 53, 80, 110, 143, 443, 993, 995}

	levelColors = map[Level]string{
		LevelLow:    "#28a745",
		LevelMedium: "#ffc107",
		LevelHigh:   "#dc3545",
	}

	generalAdvice = []string{
		"Regularly update and patch all services running on open ports",
		"Implement firewall rules to restrict access to necessary ports only",
		"Monitor network traffic for suspicious activity",
		"Consider using intrusion detection systems (IDS)",
	}

	serviceNames = map[int]string{
		20:   "FTP Data",
		21:   "FTP Control",
		22:   "SSH",
		23:   "Telnet",
		25:   "SMTP",
		53:   "DNS",
		67:   "DHCP Server",
		68:   "DHCP Client",
		80:   "HTTP",
		110:  "POP3",
		119:  "NNTP",
		123:  "NTP",
		135:  "RPC Endpoint",
		137:  "NetBIOS Name",
		138:  "NetBIOS Datagram",
		139:  "NetBIOS Session",
		143:  "IMAP",
		161:  "SNMP",
		194:  "IRC",
		389:  "LDAP",
		443:  "HTTPS",
		445:  "SMB",
		465:  "SMTPS",
		514:  "Syslog",
		587:  "SMTP Submission",
		631:  "IPP",
		636:  "LDAPS",
		993:  "IMAPS",
		995:  "POP3S",
		1433: "MS SQL Server",
		1521: "Oracle DB",
		1723: "PPTP",
		3306: "MySQL",
		3389: "RDP",
		5432: "PostgreSQL",
		5900: "VNC",
		5901: "VNC",
		6379: "Redis",
		8080: "HTTP Proxy",
		8443: "HTTPS Alt",
	}
)

// Input is the scan data a report is built from. It accepts a stored
// ScanResult as well as hand-written payloads that only carry a few fields.
type Input struct {
	ScanID    string `json:"scan_id,omitempty"`
	Target    string `json:"target,omitempty"`
	Mode      string `json:"mode,omitempty"`
	PortRange string `json:"port_range,omitempty"`
	// Range is the older name of PortRange.
	Range     string `json:"range,omitempty"`
	OpenPorts []int  `json:"open_ports"`
}

// FromScanResult converts a stored scan into report input.
func FromScanResult(result *scanning.ScanResult) Input {
	return Input{
		ScanID:    result.ScanID,
		Target:    result.Target,
		Mode:      result.Mode,
		PortRange: result.PortRange,
		OpenPorts: slices.Clone(result.OpenPorts),
	}
}

// PortRow is one line of the open port table.
type PortRow struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Status   string `json:"status"`
	Service  string `json:"service"`
}

// Report is a rendered-ready scan report.
type Report struct {
	ScanID          string    `json:"scan_id"`
	Title           string    `json:"title"`
	Target          string    `json:"target"`
	Mode            string    `json:"mode"`
	PortRange       string    `json:"port_range"`
	GeneratedAt     time.Time `json:"generated_at"`
	TotalOpenPorts  int       `json:"total_open_ports"`
	Ports           []PortRow `json:"ports"`
	RiskLevel       Level     `json:"risk_level"`
	RiskColor       string    `json:"risk_color"`
	Recommendations []string  `json:"recommendations"`
}

// Build assembles a report. historyLen names the report when the input has
// no scan id.
func Build(in Input, historyLen int, now time.Time) *Report {
	scanID := in.ScanID
	if scanID == "" {
		scanID = "scan_" + strconv.Itoa(historyLen)
	}
	target := orDefault(in.Target, defaultTarget)
	mode := strings.ToUpper(orDefault(in.Mode, defaultMode))
	portRange := orDefault(in.PortRange, orDefault(in.Range, defaultPortRange))

	rows := make([]PortRow, 0, len(in.OpenPorts))
	for _, port := range in.OpenPorts {
		rows = append(rows, PortRow{Port: port, Protocol: mode, Status: "Open", Service: ServiceName(port)})
	}

	level := AssessRisk(in.OpenPorts)
	return &Report{
		ScanID:          scanID,
		Title:           "Port Scan Report for " + target,
		Target:          target,
		Mode:            mode,
		PortRange:       portRange,
		GeneratedAt:     now,
		TotalOpenPorts:  len(in.OpenPorts),
		Ports:           rows,
		RiskLevel:       level,
		RiskColor:       Color(level),
		Recommendations: Recommendations(in.OpenPorts),
	}
}

// AssessRisk rates open ports on the report scale.
func AssessRisk(openPorts []int) Level {
	switch {
	case len(openPorts) == 0:
		return LevelLow
	case containsAny(openPorts, highRiskPorts):
		return LevelHigh
	case containsAny(openPorts, mediumRiskPorts):
		return LevelMedium
	case len(openPorts) > manyOpenPorts:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Color returns the display color for level.
func Color(level Level) string {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return neutralColor
}

// ServiceName returns the report's name for port.
func ServiceName(port int) string {
	if name, ok := serviceNames[port]; ok {
		return name
	}
	return unknownService
}

// Recommendations returns at most six remediation items for openPorts.
func Recommendations(openPorts []int) []string {
	if len(openPorts) == 0 {
		return []string{"No open ports detected - maintain current security posture"}
	}

	var advice []string
	if slices.Contains(openPorts, 21) {
		advice = append(advice, "FTP (21) detected - Consider using SFTP instead")
	}
	if slices.Contains(openPorts, 23) {
		advice = append(advice, "Telnet (23) detected - Replace with SSH for secure remote access")
	}
	if containsAny(openPorts, []int{135, 139, 445}) {
		advice = append(advice, "Windows networking ports detected - Restrict access to trusted networks only")
	}
	if slices.Contains(openPorts, 3389) {
		advice = append(advice, "RDP (3389) detected - Enable Network Level Authentication and use strong passwords")
	}
	if containsAny(openPorts, []int{5900, 5901}) {
		advice = append(advice, "VNC detected - Use strong authentication and consider VPN access")
	}
	advice = append(advice, generalAdvice...)

	if len(advice) > maxAdvice {
		advice = advice[:maxAdvice]
	}
	return advice
}

// Format selects a report rendering.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" and "json", case-insensitively. An empty
// string selects text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", errors.ErrInvalidRequest(fmt.Sprintf("Unsupported report format '%s'", s))
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Render writes r to w in format f.
func (r *Report) Render(w io.Writer, f Format) error {
	if f == FormatJSON {
		return r.RenderJSON(w)
	}
	return r.RenderText(w)
}

// RenderJSON writes r as indented JSON.
func (r *Report) RenderJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// RenderText writes r as plain text with tables.
func (r *Report) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\nReport %s, generated %s\n\nScan Information\n",
		r.Title, r.ScanID, r.GeneratedAt.Format("2006-01-02 15:04")); err != nil {
		return err
	}

	info := tablewriter.NewWriter(w)
	info.Header("Property", "Value")
	for _, row := range [][]string{
		{"Target", r.Target},
		{"Mode", r.Mode},
		{"Port Range", r.PortRange},
		{"Scan Date", r.GeneratedAt.Format(time.DateTime)},
		{"Total Open Ports", strconv.Itoa(r.TotalOpenPorts)},
	} {
		if err := info.Append(row); err != nil {
			return err
		}
	}
	if err := info.Render(); err != nil {
		return err
	}

	if len(r.Ports) == 0 {
		if _, err := fmt.Fprint(w, "\nNo Open Ports Detected\n"+
			"All scanned ports appear to be closed or filtered. This is generally a good security posture.\n"); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprint(w, "\nOpen Ports Detected\n"); err != nil {
			return err
		}
		ports := tablewriter.NewWriter(w)
		ports.Header("Port", "Protocol", "Status", "Service")
		for _, p := range r.Ports {
			if err := ports.Append([]string{strconv.Itoa(p.Port), p.Protocol, p.Status, p.Service}); err != nil {
				return err
			}
		}
		if err := ports.Render(); err != nil {
			return err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nSecurity Assessment\nRisk Level: %s (%s)\n", r.RiskLevel, r.RiskColor)
	if len(r.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func containsAny(ports, set []int) bool {
	for _, p := range ports {
		if slices.Contains(set, p) {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
