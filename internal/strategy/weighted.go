package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type weightedStrategy struct {
	src *source
}

// NewWeightedStrategy returns the weighted-random strategy: each available
// worker is drawn with probability proportional to its Weight.
func NewWeightedStrategy(rng *rand.Rand) Strategy {
	return &weightedStrategy{src: newSource(rng)}
}

func (s *weightedStrategy) Select(workers []*worker.Worker) *worker.Worker {
	candidates := available(workers)
	if len(candidates) == 0 {
		return nil
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, w := range candidates {
		weights[i] = w.Weight()
		total += weights[i]
	}

	if total <= 0 {
		return candidates[s.src.IntN(len(candidates))]
	}

	draw := s.src.Float64() * total
	var cumulative float64
	for i, w := range candidates {
		cumulative += weights[i]
		if cumulative >= draw {
			return w
		}
	}

	// float rounding
	return candidates[len(candidates)-1]
}
