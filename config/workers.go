package config

import (
	"strconv"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

// BuildWorkers creates the worker pool described by a validated config, in
// configuration order.
func BuildWorkers(cfg *Config) ([]*worker.Worker, error) {
	workers := make([]*worker.Worker, 0, len(cfg.Workers))

	for i, wc := range cfg.Workers {
		kind, err := worker.ParseKind(wc.Type)
		if err != nil {
			return nil, &ConfigurationError{Field: fieldOf(i, "type"), Reason: err.Error()}
		}

		capacity := wc.MaxConcurrentRequests
		if capacity == 0 {
			capacity = worker.DefaultCapacity
		}

		w, err := worker.New(worker.Spec{
			ID:       wc.ID,
			Host:     wc.Host,
			Port:     wc.Port,
			Kind:     kind,
			Model:    wc.Model,
			Capacity: capacity,
		}, worker.WithWindowSize(cfg.Balancer.WorkerWindowSize))
		if err != nil {
			return nil, &ConfigurationError{Field: fieldOf(i, "max_concurrent_requests"), Reason: err.Error()}
		}

		workers = append(workers, w)
	}

	return workers, nil
}

func fieldOf(index int, name string) string {
	return "workers." + strconv.Itoa(index) + "." + name
}
