package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

// Handler serves the JSON snapshot for the workers returned by pool.
func (a *Aggregator) Handler(pool func() []*worker.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := a.Snapshot(pool())

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
