package loadbalancer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	perHostConnections = 10
	idleConnTimeout    = 90 * time.Second
	dialTimeout        = 10 * time.Second
	keepAlive          = 30 * time.Second
)

// newTransport builds the pooled transport shared by all workers.
func newTransport(poolSize int, dnsTTL time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	dial := dialer.DialContext
	if dnsTTL > 0 {
		dial = newDNSCache(dnsTTL, net.DefaultResolver).wrap(dialer.DialContext)
	}

	return &http.Transport{
		DialContext:         dial,
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: perHostConnections,
		MaxConnsPerHost:     perHostConnections,
		IdleConnTimeout:     idleConnTimeout,
	}
}

type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

// dnsCache remembers host lookups for ttl so that busy workers addressed
// by name are not resolved on every new connection.
type dnsCache struct {
	mutex    sync.RWMutex
	entries  map[string]dnsEntry
	ttl      time.Duration
	resolver resolver
	now      func() time.Time
}

func newDNSCache(ttl time.Duration, r resolver) *dnsCache {
	return &dnsCache{
		entries:  make(map[string]dnsEntry),
		ttl:      ttl,
		resolver: r,
		now:      time.Now,
	}
}

func (c *dnsCache) lookup(ctx context.Context, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}

	c.mutex.RLock()
	entry, ok := c.entries[host]
	c.mutex.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.addrs, nil
	}

	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.entries[host] = dnsEntry{addrs: addrs, expires: c.now().Add(c.ttl)}
	c.mutex.Unlock()

	return addrs, nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (c *dnsCache) wrap(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dial(ctx, network, addr)
		}

		addrs, err := c.lookup(ctx, host)
		if err != nil {
			return nil, err
		}

		lastErr := fmt.Errorf("no addresses for %s", host)
		for _, ip := range addrs {
			conn, err := dial(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}

		return nil, lastErr
	}
}
