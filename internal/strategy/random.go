package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type randomStrategy struct {
	src *source
}

func (r *randomStrategy) Select(workers []*worker.Worker) *worker.Worker {
	candidates := available(workers)
	if len(candidates) == 0 {
		return nil
	}

	return candidates[r.src.IntN(len(candidates))]
}

// NewRandomStrategy picks uniformly among available workers.
func NewRandomStrategy(rng *rand.Rand) Strategy {
	return &randomStrategy{src: newSource(rng)}
}
