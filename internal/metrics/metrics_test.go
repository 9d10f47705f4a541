package metrics_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-balancer/internal/metrics"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type fakeClock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

func newWorker(id string) *worker.Worker {
	w, err := worker.New(worker.Spec{
		ID:       id,
		Host:     "192.168.1.10",
		Port:     1234,
		Kind:     worker.KindLMStudio,
		Model:    "mistral",
		Capacity: 3,
	})
	Expect(err).NotTo(HaveOccurred())
	return w
}

var _ = Describe("Aggregator", func() {
	var (
		clock *fakeClock
		agg   *metrics.Aggregator
		cfg   metrics.BalancerConfig
	)

	BeforeEach(func() {
		clock = &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		cfg = metrics.BalancerConfig{
			HealthCheckInterval: 30,
			RequestTimeout:      300,
			MaxRetries:          3,
			MaxConcurrentBatch:  50,
			Strategy:            "weighted",
			AdmissionMode:       "advisory",
		}
		agg = metrics.New(cfg, metrics.WithClock(clock.Now))
	})

	It("should report zeros before any request", func() {
		snap := agg.Snapshot(nil)

		Expect(snap.UptimeSeconds).To(BeZero())
		Expect(snap.Requests).To(Equal(metrics.RequestStats{}))
		Expect(snap.Performance).To(Equal(metrics.Performance{}))
		Expect(snap.Workers).To(BeEmpty())
		Expect(snap.Config).To(Equal(cfg))
	})

	It("should compute rates and latency statistics", func() {
		agg.RecordSuccess("a", 100*time.Millisecond)
		agg.RecordSuccess("a", 300*time.Millisecond)
		agg.RecordSuccess("b", 200*time.Millisecond)
		agg.RecordFailure("b")
		clock.Advance(2 * time.Second)

		snap := agg.Snapshot(nil)

		Expect(snap.UptimeSeconds).To(Equal(2.0))
		Expect(snap.Requests.Total).To(BeEquivalentTo(4))
		Expect(snap.Requests.Successful).To(BeEquivalentTo(3))
		Expect(snap.Requests.Failed).To(BeEquivalentTo(1))
		Expect(snap.Requests.SuccessRatePercent).To(BeNumerically("~", 75.0, 1e-9))
		Expect(snap.Requests.RequestsPerSecond).To(BeNumerically("~", 2.0, 1e-9))

		Expect(snap.Performance.AverageResponseTime).To(BeNumerically("~", 0.2, 1e-9))
		Expect(snap.Performance.MinResponseTime).To(BeNumerically("~", 0.1, 1e-9))
		Expect(snap.Performance.MaxResponseTime).To(BeNumerically("~", 0.3, 1e-9))
		Expect(snap.Performance.P50ResponseTime).To(BeNumerically("~", 0.2, 1e-9))
		Expect(snap.Performance.Samples).To(Equal(3))
	})

	It("should keep only the most recent latencies", func() {
		agg = metrics.New(cfg, metrics.WithClock(clock.Now), metrics.WithWindowSize(3))

		agg.RecordSuccess("a", 10*time.Second)
		for range 3 {
			agg.RecordSuccess("a", time.Second)
		}

		snap := agg.Snapshot(nil)
		Expect(snap.Performance.Samples).To(Equal(3))
		Expect(snap.Performance.MaxResponseTime).To(BeNumerically("~", 1.0, 1e-9))
		Expect(snap.Requests.Total).To(BeEquivalentTo(4))
	})

	It("should cap the default window at 1000 samples", func() {
		for range 1200 {
			agg.RecordSuccess("a", time.Millisecond)
		}
		Expect(agg.Snapshot(nil).Performance.Samples).To(Equal(1000))
	})

	It("should only count totals and failures when disabled", func() {
		agg = metrics.New(cfg, metrics.WithClock(clock.Now), metrics.WithEnabled(false))

		agg.RecordSuccess("a", time.Second)
		agg.RecordFailure("a")

		snap := agg.Snapshot(nil)
		Expect(snap.Requests.Total).To(BeEquivalentTo(2))
		Expect(snap.Requests.Successful).To(BeZero())
		Expect(snap.Requests.Failed).To(BeEquivalentTo(1))
		Expect(snap.Performance.Samples).To(BeZero())
	})

	It("should include every worker keyed by ID", func() {
		a, b := newWorker("a"), newWorker("b")
		b.IncrementInFlight()

		snap := agg.Snapshot([]*worker.Worker{a, b})
		Expect(snap.Workers).To(HaveLen(2))
		Expect(snap.Workers["b"].CurrentRequests).To(Equal(1))
		Expect(snap.Workers["a"].Type).To(Equal(worker.KindLMStudio))
	})

	It("should be safe under concurrent recording", func() {
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					agg.RecordFailure("a")
					return
				}
				agg.RecordSuccess("a", time.Millisecond)
			}()
		}
		wg.Wait()

		snap := agg.Snapshot(nil)
		Expect(snap.Requests.Total).To(BeEquivalentTo(50))
		Expect(snap.Requests.Failed).To(BeEquivalentTo(25))
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			agg.RecordSuccess("a", time.Second)
			pool := []*worker.Worker{newWorker("a")}

			rec := httptest.NewRecorder()
			agg.Handler(func() []*worker.Worker { return pool })(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKey("requests"))
			Expect(body).To(HaveKey("performance"))
			Expect(body).To(HaveKey("load_balancer_config"))
			Expect(body["workers"]).To(HaveKey("a"))
		})
	})

	Describe("PrometheusHandler", func() {
		It("should export request counters and worker gauges", func() {
			w := newWorker("mac-studio")
			agg.Watch([]*worker.Worker{w})
			agg.RecordSuccess("mac-studio", 250*time.Millisecond)
			agg.RecordFailure("mac-studio")

			rec := httptest.NewRecorder()
			agg.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			out := rec.Body.String()
			Expect(out).To(ContainSubstring(`llm_balancer_requests_total{outcome="success",worker="mac-studio"} 1`))
			Expect(out).To(ContainSubstring(`llm_balancer_requests_total{outcome="failure",worker="mac-studio"} 1`))
			Expect(out).To(ContainSubstring(`llm_balancer_request_duration_seconds_count{worker="mac-studio"} 1`))
			Expect(out).To(ContainSubstring(`llm_balancer_worker_healthy{type="lm_studio",worker="mac-studio"} 1`))
			Expect(out).To(ContainSubstring(`llm_balancer_worker_capacity{type="lm_studio",worker="mac-studio"} 3`))
		})
	})
})
