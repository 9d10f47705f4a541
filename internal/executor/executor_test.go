package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/llm-balancer/internal/executor"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

func workerFor(id string, server *httptest.Server) *worker.Worker {
	u, err := url.Parse(server.URL)
	Expect(err).NotTo(HaveOccurred())
	host, portStr, err := net.SplitHostPort(u.Host)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())

	w, err := worker.New(worker.Spec{
		ID:       id,
		Host:     host,
		Port:     port,
		Kind:     worker.KindOllama,
		Model:    "llama2",
		Capacity: 4,
	})
	Expect(err).NotTo(HaveOccurred())
	return w
}

// scriptedBackend answers /api/generate with the next status in its script,
// repeating the last one once the script runs out.
type scriptedBackend struct {
	mutex    sync.Mutex
	statuses []int
	hits     []time.Time
	delay    time.Duration
}

func (b *scriptedBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mutex.Lock()
	n := len(b.hits)
	b.hits = append(b.hits, time.Now())
	status := b.statuses[min(n, len(b.statuses)-1)]
	b.mutex.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = w.Write([]byte(`{"model":"llama2","response":"hi","done":true}`))
		return
	}
	_, _ = w.Write([]byte("model overloaded"))
}

func (b *scriptedBackend) Hits() []time.Time {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]time.Time(nil), b.hits...)
}

type countingRecorder struct {
	successes atomic.Int32
	failures  atomic.Int32
}

func (r *countingRecorder) RecordSuccess(string, time.Duration) { r.successes.Add(1) }
func (r *countingRecorder) RecordFailure(string)                { r.failures.Add(1) }

var _ = Describe("Executor", func() {
	const base = 20 * time.Millisecond

	var (
		backend  *scriptedBackend
		server   *httptest.Server
		w        *worker.Worker
		recorder *countingRecorder
		log      *slog.Logger
	)

	BeforeEach(func() {
		backend = &scriptedBackend{statuses: []int{http.StatusOK}}
		server = httptest.NewServer(backend)
		w = workerFor("w1", server)
		recorder = &countingRecorder{}
		log = slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	AfterEach(func() {
		server.Close()
	})

	newExecutor := func(workers []*worker.Worker, opts ...executor.Option) *executor.Executor {
		sel := strategy.NewSelector(strategy.NewLeastLoadStrategy())
		opts = append([]executor.Option{
			executor.WithBackoffBase(base),
			executor.WithRecorder(recorder),
			executor.WithLogger(log),
		}, opts...)
		return executor.New(workers, sel, server.Client(), opts...)
	}

	It("should return the backend body unmodified on success", func() {
		body, err := newExecutor([]*worker.Worker{w}).Execute(context.Background(), "hi", adapter.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(`{"model":"llama2","response":"hi","done":true}`))

		Expect(backend.Hits()).To(HaveLen(1))
		Expect(w.TotalRequests()).To(BeEquivalentTo(1))
		Expect(w.FailedRequests()).To(BeEquivalentTo(0))
		Expect(w.SampleCount()).To(Equal(1))
		Expect(w.CurrentRequests()).To(Equal(0))
		Expect(recorder.successes.Load()).To(BeEquivalentTo(1))
	})

	It("should make at most maxRetries+1 attempts with exponential waits", func() {
		backend.statuses = []int{http.StatusServiceUnavailable}

		start := time.Now()
		_, err := newExecutor([]*worker.Worker{w}).Execute(context.Background(), "hi", adapter.DefaultOptions())
		elapsed := time.Since(start)

		var retryErr *executor.RetryError
		Expect(errors.As(err, &retryErr)).To(BeTrue())
		Expect(retryErr.Attempts).To(Equal(4))

		hits := backend.Hits()
		Expect(hits).To(HaveLen(4))
		Expect(hits[1].Sub(hits[0])).To(BeNumerically(">=", base))
		Expect(hits[2].Sub(hits[1])).To(BeNumerically(">=", 2*base))
		Expect(hits[3].Sub(hits[2])).To(BeNumerically(">=", 4*base))

		// no wait after the final attempt
		Expect(elapsed).To(BeNumerically("<", 7*base+time.Second))

		Expect(w.FailedRequests()).To(BeEquivalentTo(4))
		Expect(w.CurrentRequests()).To(Equal(0))
		Expect(recorder.failures.Load()).To(BeEquivalentTo(4))
	})

	It("should preserve the status and body of a backend error", func() {
		backend.statuses = []int{http.StatusServiceUnavailable}

		_, err := newExecutor([]*worker.Worker{w}, executor.WithMaxRetries(0)).
			Execute(context.Background(), "hi", adapter.DefaultOptions())

		var backendErr *executor.BackendError
		Expect(errors.As(err, &backendErr)).To(BeTrue())
		Expect(backendErr.WorkerID).To(Equal("w1"))
		Expect(backendErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(backendErr.Body).To(Equal("model overloaded"))
		Expect(err.Error()).To(ContainSubstring("HTTP 503"))
	})

	It("should stop as soon as an attempt succeeds", func() {
		backend.statuses = []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK}

		body, err := newExecutor([]*worker.Worker{w}).Execute(context.Background(), "hi", adapter.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		Expect(body).NotTo(BeEmpty())
		Expect(backend.Hits()).To(HaveLen(3))
		Expect(w.SuccessRate()).To(BeNumerically("~", 1.0/3.0, 1e-9))
	})

	It("should back off linearly while no worker is available", func() {
		w.SetHealth(false, time.Now())

		start := time.Now()
		_, err := newExecutor([]*worker.Worker{w}).Execute(context.Background(), "hi", adapter.DefaultOptions())

		Expect(err).To(MatchError(strategy.ErrNoAvailableWorkers))
		Expect(time.Since(start)).To(BeNumerically(">=", 6*base))
		Expect(backend.Hits()).To(BeEmpty())
	})

	It("should pick a worker that becomes available during the backoff", func() {
		w.SetHealth(false, time.Now())
		go func() {
			time.Sleep(base / 2)
			w.SetHealth(true, time.Now())
		}()

		_, err := newExecutor([]*worker.Worker{w}).Execute(context.Background(), "hi", adapter.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should bound each attempt by the request timeout", func() {
		backend.delay = time.Second

		_, err := newExecutor([]*worker.Worker{w},
			executor.WithMaxRetries(1),
			executor.WithRequestTimeout(50*time.Millisecond),
		).Execute(context.Background(), "hi", adapter.DefaultOptions())

		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(backend.Hits()).To(HaveLen(2))
		Expect(w.FailedRequests()).To(BeEquivalentTo(2))
	})

	It("should return the context error when cancelled during backoff", func() {
		backend.statuses = []int{http.StatusInternalServerError}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := newExecutor([]*worker.Worker{w}, executor.WithBackoffBase(time.Hour)).
			Execute(ctx, "hi", adapter.DefaultOptions())
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(backend.Hits()).To(HaveLen(1))
	})

	It("should fail over to another worker once a breaker opens", func() {
		bad := &scriptedBackend{statuses: []int{http.StatusInternalServerError}}
		badServer := httptest.NewServer(bad)
		defer badServer.Close()

		badWorker := workerFor("bad", badServer)
		breakers := circuitbreaker.NewRegistry(1, time.Hour)
		sel := strategy.NewSelector(strategy.NewLeastLoadStrategy(), strategy.WithBreakers(breakers))

		exec := executor.New([]*worker.Worker{badWorker, w}, sel, http.DefaultClient,
			executor.WithBackoffBase(base),
			executor.WithBreakers(breakers),
			executor.WithLogger(log))

		body, err := exec.Execute(context.Background(), "hi", adapter.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		Expect(body).NotTo(BeEmpty())
		Expect(bad.Hits()).To(HaveLen(1))
		Expect(badWorker.FailedRequests()).To(BeEquivalentTo(1))
		Expect(breakers.States()).To(HaveKeyWithValue("bad", circuitbreaker.StateOpen))
	})
})
