package strategy

import (
	"fmt"
	"slices"
	"sync"

	"github.com/angeloszaimis/llm-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

// Mode controls how a selection is turned into an admitted request.
type Mode string

const (
	// ModeAdvisory selects then increments. Concurrent callers may push a
	// worker transiently past its capacity.
	ModeAdvisory Mode = "advisory"
	// ModeStrict selects, re-checks capacity and increments under one lock.
	ModeStrict Mode = "strict"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAdvisory, ModeStrict:
		return m, nil
	case "":
		return ModeAdvisory, nil
	default:
		return "", fmt.Errorf("unknown admission mode %q", s)
	}
}

// Selector admits requests onto workers using a Strategy.
type Selector struct {
	strategy Strategy
	mode     Mode
	breakers *circuitbreaker.Registry

	mutex sync.Mutex
}

type SelectorOption func(*Selector)

func WithMode(m Mode) SelectorOption {
	return func(s *Selector) {
		s.mode = m
	}
}

// WithBreakers makes the selector skip workers whose breaker is open.
func WithBreakers(r *circuitbreaker.Registry) SelectorOption {
	return func(s *Selector) {
		s.breakers = r
	}
}

func NewSelector(strategy Strategy, opts ...SelectorOption) *Selector {
	s := &Selector{
		strategy: strategy,
		mode:     ModeAdvisory,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Selector) Mode() Mode { return s.mode }

// Acquire picks a worker and increments its in-flight counter. The caller
// must call DecrementInFlight on the returned worker when done.
func (s *Selector) Acquire(workers []*worker.Worker) (*worker.Worker, error) {
	if s.mode == ModeStrict {
		s.mutex.Lock()
		defer s.mutex.Unlock()
	}

	candidates := workers
	for len(candidates) > 0 {
		w := s.strategy.Select(candidates)
		if w == nil {
			break
		}

		if s.mode == ModeStrict && !w.Available() {
			candidates = without(candidates, w)
			continue
		}

		if !s.breakers.Allow(w.ID()) {
			candidates = without(candidates, w)
			continue
		}

		w.IncrementInFlight()
		return w, nil
	}

	return nil, ErrNoAvailableWorkers
}

func without(workers []*worker.Worker, drop *worker.Worker) []*worker.Worker {
	return slices.DeleteFunc(slices.Clone(workers), func(w *worker.Worker) bool {
		return w == drop
	})
}
