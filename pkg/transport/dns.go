package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Address is a resolved (IP, port) pair; the address family follows from
// whether IP is an IPv4 or IPv6 address.
type Address struct {
	IP   net.IP
	Port int
}

// Resolver is the DNS collaborator the core consumes (spec §6.4):
// resolve(host, port) -> address. [CachingResolver] wraps any Resolver
// with a cache, modeling the source's lazily-initialized global DNS cache
// (spec §9); [New] does not add one, so a Connection caches only when its
// Config.Resolver is a CachingResolver.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) (Address, error)
}

// netResolver is the default [Resolver], backed by net.DefaultResolver.
type netResolver struct{}

// DefaultResolver is the standard-library-backed resolver used when no
// collaborator override is supplied. No ecosystem DNS client appears
// anywhere in the retrieval pack for a plain forward-lookup role, so this
// one component is intentionally built on net.DefaultResolver (see
// DESIGN.md).
var DefaultResolver Resolver = netResolver{}

func (netResolver) Resolve(ctx context.Context, host string, port int) (Address, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return Address{}, fmt.Errorf("transport: resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return Address{}, fmt.Errorf("transport: resolve %q: no addresses", host)
	}
	return Address{IP: ips[0], Port: port}, nil
}

// CachingResolver wraps a [Resolver] with an in-memory cache, avoiding a
// fresh lookup for every connect/retry cycle. It is process-wide by
// convention: callers share one instance (spec §9 "global state").
type CachingResolver struct {
	inner Resolver

	mu    sync.RWMutex
	cache map[string]Address
}

// NewCachingResolver wraps inner (or [DefaultResolver] if nil) with a cache.
func NewCachingResolver(inner Resolver) *CachingResolver {
	if inner == nil {
		inner = DefaultResolver
	}
	return &CachingResolver{inner: inner, cache: make(map[string]Address)}
}

func (c *CachingResolver) key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Resolve returns the cached address for host:port if present, otherwise
// resolves and caches it.
func (c *CachingResolver) Resolve(ctx context.Context, host string, port int) (Address, error) {
	k := c.key(host, port)

	c.mu.RLock()
	addr, ok := c.cache[k]
	c.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, err := c.inner.Resolve(ctx, host, port)
	if err != nil {
		return Address{}, err
	}

	c.mu.Lock()
	c.cache[k] = addr
	c.mu.Unlock()
	return addr, nil
}

// Invalidate drops a cached entry, forcing the next Resolve to re-query.
func (c *CachingResolver) Invalidate(host string, port int) {
	c.mu.Lock()
	delete(c.cache, c.key(host, port))
	c.mu.Unlock()
}
