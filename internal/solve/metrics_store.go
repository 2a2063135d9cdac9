package solve

import "sync"

type metricsKey struct {
	SolveID string
	Tier    string
}

var (
	mu    sync.Mutex
	store = map[metricsKey]Metrics{}
)

// RecordMetrics keeps the search metrics of one tier solve for admin queries.
func RecordMetrics(solveID, tier string, m Metrics) {
	mu.Lock()
	store[metricsKey{SolveID: solveID, Tier: tier}] = m
	mu.Unlock()
}

// GetMetrics returns the recorded per-tier metrics for one solve.
func GetMetrics(solveID string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range store {
		if k.SolveID == solveID {
			out[k.Tier] = v
		}
	}
	return out
}

// ClearMetrics drops one solve's snapshot once it has been persisted, so
// the map does not grow with the solve history.
func ClearMetrics(solveID string) {
	mu.Lock()
	defer mu.Unlock()
	for k := range store {
		if k.SolveID == solveID {
			delete(store, k)
		}
	}
}
