package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver sends A queries to a fixed DNS server over UDP.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNS returns a Resolver that queries server, a host[:port] address.
// Port 53 is used if none is given.
func NewDNS(server string, timeout time.Duration) (*DNSResolver, error) {
	if server == "" {
		return nil, errors.New("dns resolver: missing server address")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

func (r *DNSResolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := parseIPv4(host); ok {
		return addr, nil
	}
	if host == "" {
		return netip.Addr{}, fmt.Errorf("lookup %q: %w", host, ErrNotFound)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("lookup %s on %s: %w", host, r.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("lookup %s on %s: %s: %w", host, r.server, dns.RcodeToString[in.Rcode], ErrNotFound)
	}

	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("lookup %s on %s: %w", host, r.server, ErrNotFound)
}
