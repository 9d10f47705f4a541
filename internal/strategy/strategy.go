package strategy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

// ErrNoAvailableWorkers is returned when no worker is healthy with spare capacity.
var ErrNoAvailableWorkers = errors.New("no available workers")

var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy picks one worker out of a pool. Implementations only ever return
// a worker that was Available at the time of the call, or nil.
type Strategy interface {
	Select(workers []*worker.Worker) *worker.Worker
}

type Type string

const (
	TypeWeighted  Type = "weighted"
	TypeRandom    Type = "random"
	TypeLeastLoad Type = "least-load"
)

// New builds the strategy of the given type. A nil rng uses the global
// math/rand/v2 source.
func New(t Type, rng *rand.Rand) (Strategy, error) {
	switch t {
	case TypeWeighted, "":
		return NewWeightedStrategy(rng), nil
	case TypeRandom:
		return NewRandomStrategy(rng), nil
	case TypeLeastLoad:
		return NewLeastLoadStrategy(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, t)
	}
}

func available(workers []*worker.Worker) []*worker.Worker {
	out := make([]*worker.Worker, 0, len(workers))
	for _, w := range workers {
		if w.Available() {
			out = append(out, w)
		}
	}
	return out
}

// source serialises access to an injected *rand.Rand, which is not safe
// for concurrent use.
type source struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

func newSource(rng *rand.Rand) *source {
	return &source{rng: rng}
}

func (s *source) Float64() float64 {
	if s.rng == nil {
		return rand.Float64()
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rng.Float64()
}

func (s *source) IntN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rng.IntN(n)
}
