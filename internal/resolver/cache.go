package resolver

import (
	"context"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CachingResolver remembers successful lookups of another Resolver for a
// fixed TTL. Failures are not cached.
type CachingResolver struct {
	next  Resolver
	cache *ttlcache.Cache[string, netip.Addr]
}

// NewCache wraps next with a cache whose entries expire after ttl. Close
// stops the expiry goroutine.
func NewCache(next Resolver, ttl time.Duration) *CachingResolver {
	c := ttlcache.New(
		ttlcache.WithTTL[string, netip.Addr](ttl),
		ttlcache.WithDisableTouchOnHit[string, netip.Addr](),
	)
	go c.Start()

	return &CachingResolver{next: next, cache: c}
}

func (r *CachingResolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if item := r.cache.Get(host); item != nil {
		return item.Value(), nil
	}

	addr, err := r.next.LookupIPv4(ctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	r.cache.Set(host, addr, ttlcache.DefaultTTL)
	return addr, nil
}

// Close stops the cache's expiry loop.
func (r *CachingResolver) Close() {
	r.cache.Stop()
}
