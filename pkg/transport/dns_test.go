package transport

import (
	"context"
	"errors"
	"net"
	"testing"
)

type stubResolver struct {
	calls int
	addr  Address
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, host string, port int) (Address, error) {
	s.calls++
	return s.addr, s.err
}

func TestCachingResolver_CachesSuccessfulLookup(t *testing.T) {
	stub := &stubResolver{addr: Address{IP: net.ParseIP("127.0.0.1"), Port: 443}}
	c := NewCachingResolver(stub)

	for i := 0; i < 3; i++ {
		addr, err := c.Resolve(context.Background(), "example.test", 443)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !addr.IP.Equal(stub.addr.IP) || addr.Port != 443 {
			t.Fatalf("unexpected address: %+v", addr)
		}
	}

	if stub.calls != 1 {
		t.Fatalf("inner resolver called %d times, want 1", stub.calls)
	}
}

func TestCachingResolver_PropagatesError(t *testing.T) {
	stub := &stubResolver{err: errors.New("boom")}
	c := NewCachingResolver(stub)

	if _, err := c.Resolve(context.Background(), "example.test", 443); err == nil {
		t.Fatal("expected error")
	}
	if stub.calls != 1 {
		t.Fatalf("inner resolver called %d times, want 1", stub.calls)
	}

	// A failed lookup must not be cached.
	if _, err := c.Resolve(context.Background(), "example.test", 443); err == nil {
		t.Fatal("expected error on second call")
	}
	if stub.calls != 2 {
		t.Fatalf("inner resolver called %d times, want 2", stub.calls)
	}
}

func TestCachingResolver_InvalidateForcesReLookup(t *testing.T) {
	stub := &stubResolver{addr: Address{IP: net.ParseIP("10.0.0.1"), Port: 80}}
	c := NewCachingResolver(stub)

	if _, err := c.Resolve(context.Background(), "example.test", 80); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c.Invalidate("example.test", 80)
	if _, err := c.Resolve(context.Background(), "example.test", 80); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if stub.calls != 2 {
		t.Fatalf("inner resolver called %d times after invalidate, want 2", stub.calls)
	}
}

func TestCachingResolver_DistinctPortsDistinctEntries(t *testing.T) {
	stub := &stubResolver{addr: Address{IP: net.ParseIP("10.0.0.1"), Port: 0}}
	c := NewCachingResolver(stub)

	if _, err := c.Resolve(context.Background(), "example.test", 80); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := c.Resolve(context.Background(), "example.test", 443); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if stub.calls != 2 {
		t.Fatalf("inner resolver called %d times, want 2 (distinct cache keys per port)", stub.calls)
	}
}
