package scanning

import (
	"bytes"
)

type fingerprint struct {
	pattern []byte
	label   string
}

// fingerprints is matched in order, case-insensitively, by substring. The
// first hit wins, so more general patterns shadow later specific ones.
var fingerprints = []fingerprint{
	{[]byte("HTTP/1."), "HTTP"},
	{[]byte("Server: Apache"), "Apache HTTP Server"},
	{[]byte("Server: nginx"), "Nginx HTTP Server"},
	{[]byte("Server: Microsoft-IIS"), "Microsoft IIS"},
	{[]byte("Server: lighttpd"), "Lighttpd HTTP Server"},
	{[]byte("SSH-2.0"), "SSH-2.0"},
	{[]byte("SSH-1.99"), "SSH-1.99"},
	{[]byte("220 "), "SMTP (if port 25/587/465)"},
	{[]byte("220-FileZilla"), "FileZilla FTP Server"},
	{[]byte("220 Microsoft FTP"), "Microsoft FTP Server"},
	{[]byte("220-ProFTPD"), "ProFTPD Server"},
	{[]byte("220-Welcome"), "SMTP Server"},
	{[]byte("+OK"), "POP3 (if port 110/995)"},
	{[]byte("* OK"), "IMAP (if port 143/993)"},
	{[]byte("Telnet"), "Telnet"},
	{[]byte("DNS"), "DNS Server"},
	{[]byte("mysql_native_password"), "MySQL Server"},
	{[]byte("FATAL"), "PostgreSQL (if port 5432)"},
	{[]byte("-ERR"), "Redis (if port 6379)"},
	{[]byte("MongoDB"), "MongoDB Server"},
	{[]byte("RDP"), "Remote Desktop Protocol"},
	{[]byte("SNMP"), "SNMP"},
	{[]byte("LDAP"), "LDAP Server"},
}

var lowerFingerprints = func() [][]byte {
	out := make([][]byte, len(fingerprints))
	for i, fp := range fingerprints {
		out[i] = bytes.ToLower(fp.pattern)
	}
	return out
}()

// IdentifyService labels the service behind port from its banner. An empty
// banner yields the well-known label for the port.
func IdentifyService(banner []byte, port int) string {
	if len(banner) == 0 {
		return ServiceLabel(port)
	}

	lower := bytes.ToLower(banner)
	for i, pattern := range lowerFingerprints {
		if bytes.Contains(lower, pattern) {
			return fingerprints[i].label
		}
	}

	if label, ok := portHeuristic(banner, lower, port); ok {
		return label
	}
	return ServiceLabel(port)
}

// portHeuristic applies the port plus content rules. Greeting prefixes are
// matched case-sensitively, protocol names case-insensitively.
func portHeuristic(banner, lower []byte, port int) (string, bool) {
	switch {
	case port == 25 && bytes.Contains(banner, []byte("220")):
		return "SMTP", true
	case port == 110 && bytes.Contains(banner, []byte("+OK")):
		return "POP3", true
	case port == 143 && bytes.Contains(banner, []byte("* OK")):
		return "IMAP", true
	case (port == 80 || port == 8080 || port == 3000 || port == 8000) && bytes.Contains(lower, []byte("http")):
		return "HTTP", true
	case (port == 443 || port == 8443) && (bytes.Contains(lower, []byte("http")) || bytes.Contains(lower, []byte("ssl"))):
		return "HTTPS", true
	case port == 22 && bytes.Contains(lower, []byte("ssh")):
		return "SSH", true
	case port == 21 && bytes.Contains(lower, []byte("ftp")):
		return "FTP", true
	case port == 23 && (bytes.Contains(lower, []byte("telnet")) || bytes.Contains(lower, []byte("login:"))):
		return "Telnet", true
	}
	return "", false
}
