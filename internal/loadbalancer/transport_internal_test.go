package loadbalancer

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingResolver struct {
	calls atomic.Int32
	addrs []string
	err   error
}

func (r *countingResolver) LookupHost(_ context.Context, _ string) ([]string, error) {
	r.calls.Add(1)
	return r.addrs, r.err
}

var _ = Describe("dnsCache", func() {
	var (
		res   *countingResolver
		cache *dnsCache
		now   time.Time
	)

	BeforeEach(func() {
		res = &countingResolver{addrs: []string{"10.0.0.7"}}
		cache = newDNSCache(time.Minute, res)
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }
	})

	It("should resolve once within the TTL", func() {
		for range 5 {
			addrs, err := cache.lookup(context.Background(), "mac-mini.local")
			Expect(err).NotTo(HaveOccurred())
			Expect(addrs).To(Equal([]string{"10.0.0.7"}))
		}
		Expect(res.calls.Load()).To(BeEquivalentTo(1))
	})

	It("should resolve again after the TTL", func() {
		_, _ = cache.lookup(context.Background(), "mac-mini.local")
		now = now.Add(2 * time.Minute)
		_, _ = cache.lookup(context.Background(), "mac-mini.local")
		Expect(res.calls.Load()).To(BeEquivalentTo(2))
	})

	It("should pass IP literals through", func() {
		addrs, err := cache.lookup(context.Background(), "192.168.1.5")
		Expect(err).NotTo(HaveOccurred())
		Expect(addrs).To(Equal([]string{"192.168.1.5"}))
		Expect(res.calls.Load()).To(BeZero())
	})

	It("should not cache failures", func() {
		res.err = errors.New("no such host")
		_, err := cache.lookup(context.Background(), "gone.local")
		Expect(err).To(HaveOccurred())

		res.err = nil
		_, err = cache.lookup(context.Background(), "gone.local")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.calls.Load()).To(BeEquivalentTo(2))
	})

	It("should dial the resolved address", func() {
		var dialed string
		dial := cache.wrap(func(_ context.Context, _, addr string) (net.Conn, error) {
			dialed = addr
			return nil, errors.New("refused")
		})

		_, err := dial(context.Background(), "tcp", "mac-mini.local:11434")
		Expect(err).To(MatchError("refused"))
		Expect(dialed).To(Equal("10.0.0.7:11434"))
	})

	It("should fail when the host has no addresses", func() {
		res.addrs = nil
		dial := cache.wrap(func(context.Context, string, string) (net.Conn, error) {
			return nil, nil
		})

		_, err := dial(context.Background(), "tcp", "empty.local:80")
		Expect(err).To(MatchError(ContainSubstring("no addresses")))
	})
})

var _ = Describe("newTransport", func() {
	It("should size the pool", func() {
		t := newTransport(100, time.Minute)
		Expect(t.MaxIdleConns).To(Equal(100))
		Expect(t.MaxConnsPerHost).To(Equal(10))
		Expect(t.MaxIdleConnsPerHost).To(Equal(10))
		Expect(t.IdleConnTimeout).To(Equal(90 * time.Second))
	})
})
