package worker

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the wire protocol spoken by a worker.
type Kind string

const (
	KindOllama   Kind = "ollama"
	KindLMStudio Kind = "lm_studio"
	KindExo      Kind = "exo"
)

const (
	DefaultCapacity   = 5
	DefaultWindowSize = 10
)

var (
	ErrInvalidCapacity = errors.New("capacity must be greater than zero")
	ErrUnknownKind     = errors.New("unknown worker type")
)

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindOllama, KindLMStudio, KindExo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Spec is the static description of a worker, as read from configuration.
type Spec struct {
	ID       string
	Host     string
	Port     int
	Kind     Kind
	Model    string
	Capacity int
}

// Worker holds the identity and live state of one inference backend.
//
// Counters are atomics so the request path never blocks on them. Health,
// timestamps and the response-time ring share a single mutex. The
// currentRequests <= capacity relation is advisory: callers check
// Available before incrementing, and concurrent callers can race past it.
type Worker struct {
	id       string
	host     string
	port     int
	kind     Kind
	model    string
	capacity int

	currentRequests atomic.Int64
	totalRequests   atomic.Int64
	failedRequests  atomic.Int64

	mutex           sync.Mutex
	healthy         bool
	lastHealthCheck time.Time
	lastUsed        time.Time
	samples         []time.Duration
	next            int
	filled          int
}

// Option customises a Worker at construction.
type Option func(*Worker)

// WithWindowSize sets how many response-time samples are retained.
func WithWindowSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.samples = make([]time.Duration, n)
		}
	}
}

// New creates a Worker from its static spec. Workers start healthy.
func New(spec Spec, opts ...Option) (*Worker, error) {
	if spec.Capacity <= 0 {
		return nil, fmt.Errorf("worker %s: %w", spec.ID, ErrInvalidCapacity)
	}

	if _, err := ParseKind(string(spec.Kind)); err != nil {
		return nil, fmt.Errorf("worker %s: %w", spec.ID, err)
	}

	now := time.Now()
	w := &Worker{
		id:              spec.ID,
		host:            spec.Host,
		port:            spec.Port,
		kind:            spec.Kind,
		model:           spec.Model,
		capacity:        spec.Capacity,
		healthy:         true,
		lastHealthCheck: now,
		lastUsed:        now,
		samples:         make([]time.Duration, DefaultWindowSize),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

func (w *Worker) ID() string    { return w.id }
func (w *Worker) Host() string  { return w.host }
func (w *Worker) Port() int     { return w.port }
func (w *Worker) Kind() Kind    { return w.kind }
func (w *Worker) Model() string { return w.model }
func (w *Worker) Capacity() int { return w.capacity }

// BaseURL returns the plain-HTTP root URL of the worker.
func (w *Worker) BaseURL() string {
	return "http://" + net.JoinHostPort(w.host, strconv.Itoa(w.port))
}

// IncrementInFlight marks one more request as dispatched to this worker.
func (w *Worker) IncrementInFlight() {
	w.currentRequests.Add(1)
}

// DecrementInFlight marks a dispatched request as finished. Never goes below zero.
func (w *Worker) DecrementInFlight() {
	for {
		cur := w.currentRequests.Load()
		if cur <= 0 {
			return
		}
		if w.currentRequests.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// CurrentRequests returns the number of requests in flight.
func (w *Worker) CurrentRequests() int {
	return int(w.currentRequests.Load())
}

func (w *Worker) TotalRequests() int64  { return w.totalRequests.Load() }
func (w *Worker) FailedRequests() int64 { return w.failedRequests.Load() }

// RecordSuccess counts a completed request.
func (w *Worker) RecordSuccess() {
	w.totalRequests.Add(1)
}

// RecordFailure counts a failed request. The total is bumped first so a
// concurrent reader never sees more failures than requests.
func (w *Worker) RecordFailure() {
	w.totalRequests.Add(1)
	w.failedRequests.Add(1)
}

// UpdateResponseTime pushes a sample into the response-time ring, evicting
// the oldest once the ring is full, and stamps the worker as last used.
func (w *Worker) UpdateResponseTime(d time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
	w.lastUsed = time.Now()
}

// AverageResponseTime returns the mean of the retained samples, or 0.
func (w *Worker) AverageResponseTime() time.Duration {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.averageLocked()
}

func (w *Worker) averageLocked() time.Duration {
	if w.filled == 0 {
		return 0
	}

	var sum time.Duration
	for i := 0; i < w.filled; i++ {
		sum += w.samples[i]
	}

	return sum / time.Duration(w.filled)
}

// SampleCount returns how many response-time samples are retained.
func (w *Worker) SampleCount() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.filled
}

// IsHealthy reports the last known health state.
func (w *Worker) IsHealthy() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.healthy
}

// SetHealth records the outcome of a health probe taken at the given time.
// Returns true if the health state changed.
func (w *Worker) SetHealth(healthy bool, at time.Time) (changed bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.lastHealthCheck = at
	if w.healthy == healthy {
		return false
	}

	w.healthy = healthy
	return true
}

func (w *Worker) LastHealthCheck() time.Time {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.lastHealthCheck
}

func (w *Worker) LastUsed() time.Time {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.lastUsed
}

// Available reports whether the worker is healthy and has spare capacity.
func (w *Worker) Available() bool {
	return w.IsHealthy() && w.CurrentRequests() < w.capacity
}

// LoadPercentage returns in-flight requests as a percentage of capacity.
func (w *Worker) LoadPercentage() float64 {
	return float64(w.CurrentRequests()) / float64(w.capacity) * 100
}

// SuccessRate is (total-failed)/total, and 1.0 before any request.
func (w *Worker) SuccessRate() float64 {
	// failed before total, mirroring RecordFailure, so failed <= total.
	failed := w.failedRequests.Load()
	total := w.totalRequests.Load()
	if total == 0 {
		return 1.0
	}

	return float64(total-failed) / float64(total)
}

const (
	availabilityShare = 0.5
	successShare      = 0.4
	speedShare        = 0.1

	neutralSpeed = 0.8
	minSpeed     = 0.3
)

// Weight scores the worker for weighted-random selection. Unavailable
// workers score zero.
//
//	weight = 0.5*availabilityRatio + 0.4*successRate + 0.1*speedFactor
func (w *Worker) Weight() float64 {
	if !w.Available() {
		return 0
	}

	current := w.CurrentRequests()
	availabilityRatio := float64(w.capacity-current) / float64(w.capacity)
	if availabilityRatio < 0 {
		availabilityRatio = 0
	}

	w.mutex.Lock()
	filled := w.filled
	avg := w.averageLocked()
	w.mutex.Unlock()

	speed := neutralSpeed
	if filled > 0 {
		speed = max(minSpeed, 1/(1+avg.Seconds()))
	}

	return availabilityShare*availabilityRatio + successShare*w.SuccessRate() + speedShare*speed
}

// Status is a point-in-time view of a worker for presentation.
type Status struct {
	ID                    string    `json:"id"`
	Host                  string    `json:"host"`
	Port                  int       `json:"port"`
	Type                  Kind      `json:"type"`
	Model                 string    `json:"model"`
	Healthy               bool      `json:"is_healthy"`
	Available             bool      `json:"is_available"`
	CurrentRequests       int       `json:"current_requests"`
	MaxConcurrentRequests int       `json:"max_concurrent_requests"`
	LoadPercentage        float64   `json:"load_percentage"`
	AverageResponseTime   float64   `json:"average_response_time"`
	SuccessRate           float64   `json:"success_rate"`
	TotalRequests         int64     `json:"total_requests"`
	FailedRequests        int64     `json:"failed_requests"`
	LastUsed              time.Time `json:"last_used"`
	LastHealthCheck       time.Time `json:"last_health_check"`
}

// Status returns the worker's status view.
func (w *Worker) Status() Status {
	w.mutex.Lock()
	healthy := w.healthy
	avg := w.averageLocked()
	lastUsed := w.lastUsed
	lastCheck := w.lastHealthCheck
	w.mutex.Unlock()

	current := w.CurrentRequests()

	return Status{
		ID:                    w.id,
		Host:                  w.host,
		Port:                  w.port,
		Type:                  w.kind,
		Model:                 w.model,
		Healthy:               healthy,
		Available:             healthy && current < w.capacity,
		CurrentRequests:       current,
		MaxConcurrentRequests: w.capacity,
		LoadPercentage:        float64(current) / float64(w.capacity) * 100,
		AverageResponseTime:   avg.Seconds(),
		SuccessRate:           w.SuccessRate(),
		TotalRequests:         w.totalRequests.Load(),
		FailedRequests:        w.failedRequests.Load(),
		LastUsed:              lastUsed,
		LastHealthCheck:       lastCheck,
	}
}

func (w *Worker) String() string {
	state := "up"
	if !w.IsHealthy() {
		state = "down"
	}
	return fmt.Sprintf("%s (%s) %s:%d - %.0f%% load", w.id, state, w.host, w.port, w.LoadPercentage())
}
