package strategy

import (
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type leastLoadStrategy struct{}

// Select returns the available worker with the lowest load percentage.
// Ties go to the earliest worker in pool order.
func (l *leastLoadStrategy) Select(workers []*worker.Worker) *worker.Worker {
	var best *worker.Worker
	bestLoad := 0.0

	for _, w := range workers {
		if !w.Available() {
			continue
		}

		load := w.LoadPercentage()
		if best == nil || load < bestLoad {
			best = w
			bestLoad = load
		}
	}

	return best
}

func NewLeastLoadStrategy() Strategy {
	return &leastLoadStrategy{}
}
