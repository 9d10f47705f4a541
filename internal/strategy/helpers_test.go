package strategy_test

import (
	"fmt"

	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

func newPool(n, capacity int) []*worker.Worker {
	pool := make([]*worker.Worker, n)
	for i := range pool {
		w, err := worker.New(worker.Spec{
			ID:       fmt.Sprintf("w%d", i+1),
			Host:     "127.0.0.1",
			Port:     11434 + i,
			Kind:     worker.KindOllama,
			Model:    "llama2",
			Capacity: capacity,
		})
		Expect(err).NotTo(HaveOccurred())
		pool[i] = w
	}
	return pool
}
