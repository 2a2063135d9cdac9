// Package store persists solve jobs and their solutions.
package store

import (
	"context"
	"errors"
	"time"

	"hubroute/internal/solve"
	"hubroute/internal/twotier"
)

// SolveStatus values for a solve job.
const (
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusTierFail = "tier1_failed"
)

// SolveRecord is one solve job with its eventual result.
type SolveRecord struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Strategy  string          `json:"strategy"`
	Status    string          `json:"status"`
	StopCount int             `json:"stopCount"`
	Error     string          `json:"error,omitempty"`
	Result    *twotier.Result `json:"result,omitempty"`
}

// Store is the persistence interface used by the API server.
type Store interface {
	CreateSolve(ctx context.Context, rec SolveRecord) error
	FinishSolve(ctx context.Context, id, status, errMsg string, res *twotier.Result) error
	GetSolve(ctx context.Context, id string) (SolveRecord, error)
	ListSolves(ctx context.Context, cursor string, limit int) ([]SolveRecord, string, error)

	SaveSearchMetrics(ctx context.Context, solveID, tier string, m solve.Metrics) error
	ListSearchMetrics(ctx context.Context, solveID string) (map[string]solve.Metrics, error)
}

var ErrNotFound = errors.New("not found")
