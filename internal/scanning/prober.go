package scanning

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Probe defaults.
const (
	DefaultConnectTimeout = 500 * time.Millisecond
	DefaultBannerTimeout  = 2 * time.Second

	maxBannerBytes     = 1024
	storedBannerLength = 100
)

// httpProbePorts receive an HTTP request when they stay silent after connect.
var httpProbePorts = map[int]struct{}{
	80: {}, 443: {}, 8080: {}, 8443: {}, 8000: {}, 3000: {}, 9000: {},
}

// PortProber checks a single port. It returns nil when the port is not open;
// connection errors are never reported.
type PortProber interface {
	Probe(ctx context.Context, ip string, port int, fingerprint bool) *PortResult
}

// Prober is the TCP connect PortProber.
type Prober struct {
	connectTimeout time.Duration
	bannerTimeout  time.Duration
}

// NewProber creates a Prober. Zero timeouts use the defaults.
func NewProber(connectTimeout, bannerTimeout time.Duration) *Prober {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if bannerTimeout <= 0 {
		bannerTimeout = DefaultBannerTimeout
	}
	return &Prober{connectTimeout: connectTimeout, bannerTimeout: bannerTimeout}
}

// Probe implements PortProber.
func (p *Prober) Probe(ctx context.Context, ip string, port int, fingerprint bool) *PortResult {
	dialer := net.Dialer{Timeout: p.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil
	}
	defer conn.Close()

	result := &PortResult{
		Port:    port,
		Status:  PortStatusOpen,
		Service: ServiceLabel(port),
	}
	if !fingerprint {
		return result
	}

	banner := p.grabBanner(ctx, conn, ip, port)
	text := NoBanner
	if len(banner) > 0 {
		result.Service = IdentifyService(banner, port)
		text = displayBanner(banner)
	}
	result.Banner = &text
	return result
}

// grabBanner reads whatever the service volunteers. Silent web ports get an
// HTTP request and everything else a bare CRLF pair. A read that times out
// counts as silence.
func (p *Prober) grabBanner(ctx context.Context, conn net.Conn, ip string, port int) []byte {
	buf := make([]byte, maxBannerBytes)

	read := func() []byte {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(p.bannerTimeout))
		n, _ := conn.Read(buf)
		if n <= 0 {
			return nil
		}
		return append([]byte(nil), buf[:n]...)
	}
	send := func(payload string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(p.bannerTimeout))
		_, err := conn.Write([]byte(payload))
		return err == nil
	}

	banner := read()
	if len(banner) == 0 {
		if _, ok := httpProbePorts[port]; ok && send(fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n\r\n", ip)) {
			banner = read()
		}
	}
	if len(banner) == 0 && send("\r\n\r\n") {
		banner = read()
	}
	return banner
}

// displayBanner is the stored form of a banner: the first bytes, with
// invalid UTF-8 replaced, trimmed of surrounding whitespace.
func displayBanner(banner []byte) string {
	if len(banner) > storedBannerLength {
		banner = banner[:storedBannerLength]
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(banner), "\uFFFD"))
}
