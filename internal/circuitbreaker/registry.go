package circuitbreaker

import (
	"sync"
	"time"
)

// Registry holds one Breaker per worker ID. A nil Registry, or one built
// with a threshold below one, allows everything and records nothing.
type Registry struct {
	mutex        sync.RWMutex
	breakers     map[string]*Breaker
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for every breaker the registry creates.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(threshold int, resetTimeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		breakers:     make(map[string]*Breaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Enabled reports whether breakers are in effect.
func (r *Registry) Enabled() bool {
	return r != nil && r.threshold > 0
}

// Get returns the breaker for a worker, creating it on first use.
func (r *Registry) Get(workerID string) *Breaker {
	r.mutex.RLock()
	b, ok := r.breakers[workerID]
	r.mutex.RUnlock()

	if ok {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if b, ok = r.breakers[workerID]; ok {
		return b
	}

	b = New(r.threshold, r.resetTimeout)
	b.now = r.now
	r.breakers[workerID] = b
	return b
}

func (r *Registry) Allow(workerID string) bool {
	if !r.Enabled() {
		return true
	}
	return r.Get(workerID).Allow()
}

func (r *Registry) RecordSuccess(workerID string) {
	if r.Enabled() {
		r.Get(workerID).RecordSuccess()
	}
}

func (r *Registry) RecordFailure(workerID string) {
	if r.Enabled() {
		r.Get(workerID).RecordFailure()
	}
}

// States returns the state of every breaker created so far.
func (r *Registry) States() map[string]State {
	if !r.Enabled() {
		return map[string]State{}
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for id, b := range r.breakers {
		states[id] = b.State()
	}
	return states
}
