package scanning

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/portscout/internal/errors"
)

const defaultDNSTimeout = 2 * time.Second

// Resolver turns a hostname or IPv4 literal into an IPv4 address. Every
// failure is reported as an UNRESOLVABLE_TARGET error.
type Resolver interface {
	Resolve(ctx context.Context, target string) (string, error)
}

// ReverseResolver finds the host name registered for an IP address.
type ReverseResolver interface {
	Reverse(ctx context.Context, ip string) (string, error)
}

// HostResolver resolves in both directions.
type HostResolver interface {
	Resolver
	ReverseResolver
}

// NewResolver returns a DNSResolver when nameservers are given and a
// SystemResolver otherwise.
func NewResolver(nameservers []string, timeout time.Duration) HostResolver {
	if len(nameservers) > 0 {
		return NewDNSResolver(nameservers, timeout)
	}
	return NewSystemResolver(timeout)
}

// literalIPv4 reports whether target is an IPv4 literal and returns its
// canonical form.
func literalIPv4(target string) (string, bool, error) {
	ip := net.ParseIP(target)
	if ip == nil {
		return "", false, nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", true, fmt.Errorf("%s is not an IPv4 address", target)
	}
	return v4.String(), true, nil
}

// SystemResolver resolves through the operating system resolver.
type SystemResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewSystemResolver creates a SystemResolver. A zero timeout uses the default.
func NewSystemResolver(timeout time.Duration) *SystemResolver {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	return &SystemResolver{resolver: net.DefaultResolver, timeout: timeout}
}

// Resolve implements Resolver.
func (r *SystemResolver) Resolve(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.ErrUnresolvableTarget(target, fmt.Errorf("empty target"))
	}
	if ip, literal, err := literalIPv4(target); literal {
		if err != nil {
			return "", errors.ErrUnresolvableTarget(target, err)
		}
		return ip, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ips, err := r.resolver.LookupIP(ctx, "ip4", target)
	if err != nil {
		return "", errors.ErrUnresolvableTarget(target, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", errors.ErrUnresolvableTarget(target, fmt.Errorf("no IPv4 address"))
}

// Reverse implements ReverseResolver.
func (r *SystemResolver) Reverse(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := r.resolver.LookupAddr(ctx, ip)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no PTR record for %s", ip)
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// DNSResolver sends queries directly to a fixed list of nameservers, trying
// each in turn until one answers.
type DNSResolver struct {
	client      *dns.Client
	nameservers []string
}

// NewDNSResolver creates a DNSResolver. Nameservers without a port use 53.
func NewDNSResolver(nameservers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		servers = append(servers, ns)
	}
	return &DNSResolver{
		client:      &dns.Client{Net: "udp", Timeout: timeout},
		nameservers: servers,
	}
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.ErrUnresolvableTarget(target, fmt.Errorf("empty target"))
	}
	if ip, literal, err := literalIPv4(target); literal {
		if err != nil {
			return "", errors.ErrUnresolvableTarget(target, err)
		}
		return ip, nil
	}
	if _, ok := dns.IsDomainName(target); !ok {
		return "", errors.ErrUnresolvableTarget(target, fmt.Errorf("malformed host name"))
	}

	answers, err := r.query(ctx, dns.Fqdn(target), dns.TypeA)
	if err != nil {
		return "", errors.ErrUnresolvableTarget(target, err)
	}
	for _, rr := range answers {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", errors.ErrUnresolvableTarget(target, fmt.Errorf("no A record"))
}

// Reverse implements ReverseResolver.
func (r *DNSResolver) Reverse(ctx context.Context, ip string) (string, error) {
	name, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}
	answers, err := r.query(ctx, name, dns.TypePTR)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", fmt.Errorf("no PTR record for %s", ip)
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	if len(r.nameservers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, ns := range r.nameservers {
		in, _, err := r.client.ExchangeContext(ctx, msg, ns)
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", ns, err)
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("query %s: %s", ns, dns.RcodeToString[in.Rcode])
			continue
		}
		return in.Answer, nil
	}
	return nil, lastErr
}
