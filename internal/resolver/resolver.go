// Package resolver looks up IPv4 addresses for domain-name destinations.
//
// A Resolver performs a single forward lookup and returns the first A
// answer. IPv4 literals are returned as-is without a lookup.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrNotFound is returned when a name has no IPv4 address.
var ErrNotFound = errors.New("no ipv4 address found")

// Resolver resolves a host name to a single IPv4 address.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (netip.Addr, error)
}

type systemResolver struct {
	r *net.Resolver
}

// NewSystem returns a Resolver backed by the operating system's resolver.
func NewSystem() Resolver {
	return &systemResolver{r: net.DefaultResolver}
}

func (s *systemResolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := parseIPv4(host); ok {
		return addr, nil
	}
	if host == "" {
		return netip.Addr{}, fmt.Errorf("lookup %q: %w", host, ErrNotFound)
	}

	addrs, err := s.r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("lookup %s: %w", host, err)
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("lookup %s: %w", host, ErrNotFound)
}

func parseIPv4(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	return addr, addr.Is4()
}
