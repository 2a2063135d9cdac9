package store

import (
	"context"
	"sync"

	"hubroute/internal/solve"
	"hubroute/internal/twotier"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	solves  map[string]SolveRecord
	order   []string                            // insertion order, newest appended
	metrics map[string]map[string]solve.Metrics // solveID -> tier -> metrics
}

func NewMemory() *Memory {
	return &Memory{
		solves:  map[string]SolveRecord{},
		metrics: map[string]map[string]solve.Metrics{},
	}
}

func (m *Memory) CreateSolve(_ context.Context, rec SolveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solves[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) FinishSolve(_ context.Context, id, status, errMsg string, res *twotier.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.solves[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	rec.Result = res
	m.solves[id] = rec
	return nil
}

func (m *Memory) GetSolve(_ context.Context, id string) (SolveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.solves[id]
	if !ok {
		return SolveRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListSolves pages newest-first; the cursor is the last-seen solve ID.
func (m *Memory) ListSolves(_ context.Context, cursor string, limit int) ([]SolveRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	ids := m.order // insertion order; newest last
	start := len(ids) - 1
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i - 1
				break
			}
		}
	}
	var out []SolveRecord
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.solves[ids[i]])
	}
	next := ""
	if len(out) == limit && start-limit >= 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) SaveSearchMetrics(_ context.Context, solveID, tier string, met solve.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics[solveID] == nil {
		m.metrics[solveID] = map[string]solve.Metrics{}
	}
	m.metrics[solveID][tier] = met
	return nil
}

func (m *Memory) ListSearchMetrics(_ context.Context, solveID string) (map[string]solve.Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]solve.Metrics{}
	for tier, met := range m.metrics[solveID] {
		out[tier] = met
	}
	return out, nil
}
