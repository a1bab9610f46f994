package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/die-net/socksproxy/internal/resolver"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to the
// destination over IPv4.
func NewDirectDialer(cfg Config) Dialer {
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.NewSystem()
	}
	return &directDialer{cfg: cfg}
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("dial %s %s: unsupported network", network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	// Anything but an IPv4 literal goes through the resolver, which only
	// answers with IPv4 addresses.
	ip, ok := ipv4Literal(host)
	if !ok {
		ip, err = d.cfg.Resolver.LookupIPv4(ctx, host)
		if err != nil {
			return nil, &ResolveError{Host: host, Err: err}
		}
	}

	nd := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port))
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(d.cfg.KeepAlive)
	}

	return conn, nil
}

func ipv4Literal(host string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	ip = ip.Unmap()
	return ip, ip.Is4()
}
