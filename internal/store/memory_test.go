package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hubroute/internal/solve"
	"hubroute/internal/twotier"
)

func TestMemoryCreateFinishGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := SolveRecord{ID: "s1", CreatedAt: time.Now(), Strategy: "balanced", Status: StatusRunning, StopCount: 3}
	if err := m.CreateSolve(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetSolve(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRunning || got.StopCount != 3 {
		t.Fatalf("record = %+v", got)
	}

	res := &twotier.Result{}
	if err := m.FinishSolve(ctx, "s1", StatusDone, "", res); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetSolve(ctx, "s1")
	if got.Status != StatusDone || got.Result == nil {
		t.Fatalf("finished record = %+v", got)
	}

	if _, err := m.GetSolve(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.FinishSolve(ctx, "absent", StatusDone, "", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := m.CreateSolve(ctx, SolveRecord{ID: id, CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	first, next, err := m.ListSolves(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].ID != "s4" || first[1].ID != "s3" {
		t.Fatalf("first page = %+v", first)
	}
	if next == "" {
		t.Fatal("expected next cursor")
	}

	second, _, err := m.ListSolves(ctx, next, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 2 || second[0].ID != "s2" || second[1].ID != "s1" {
		t.Fatalf("second page = %+v", second)
	}

	all, next, err := m.ListSolves(ctx, "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || next != "" {
		t.Fatalf("full page = %d items, cursor %q", len(all), next)
	}
}

func TestMemorySearchMetrics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SaveSearchMetrics(ctx, "s1", "tier2a", solve.Metrics{Iterations: 10}); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveSearchMetrics(ctx, "s1", "tier2b", solve.Metrics{Iterations: 20}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ListSearchMetrics(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["tier2a"].Iterations != 10 || got["tier2b"].Iterations != 20 {
		t.Fatalf("metrics = %+v", got)
	}
}
