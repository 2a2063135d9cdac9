package solve

import (
	"errors"
	"testing"

	"hubroute/internal/matrix"
	"hubroute/internal/model"
)

var testAnchor = model.Location{Name: "DEPOT", Coord: model.GeoPoint{Lat: 52.0, Lng: 5.0}}

// uniformMatrix builds an n x n matrix with the same off-diagonal cost.
func uniformMatrix(n int, km, min float64) matrix.Matrix {
	m := matrix.Matrix{
		DistanceKm:  make([][]float64, n),
		DurationMin: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.DistanceKm[i] = make([]float64, n)
		m.DurationMin[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				m.DistanceKm[i][j] = km
				m.DurationMin[i][j] = min
			}
		}
	}
	return m
}

func fixedFleet(name string, capKg float64, count int) model.Fleet {
	return model.Fleet{Entries: []model.FleetEntry{
		{Class: model.VehicleClass{Name: name, CapacityKg: capKg, CostPerKm: 1}, Count: count},
	}}
}

func testStop(id string, kg float64, start, end int) model.Stop {
	return model.Stop{
		ID:       id,
		Location: model.GeoPoint{Lat: 52.0, Lng: 5.0},
		WeightKg: kg,
		Window:   model.TimeWindow{Start: start, End: end},
	}
}

func TestBuildStructuralError(t *testing.T) {
	stops := []model.Stop{testStop("S1", 500, 600, 660)}
	_, err := Build(testAnchor, stops, uniformMatrix(2, 5, 20), fixedFleet("Van", 250, 2), Config{})
	var se *StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("want StructuralError, got %v", err)
	}
	if se.StopID != "S1" || se.MaxCapacityKg != 250 {
		t.Fatalf("error fields: %+v", se)
	}
}

func TestBuildRejectsWrongMatrixSize(t *testing.T) {
	stops := []model.Stop{testStop("S1", 10, 600, 660)}
	if _, err := Build(testAnchor, stops, uniformMatrix(3, 5, 20), fixedFleet("Van", 250, 1), Config{}); err == nil {
		t.Fatal("matrix size mismatch accepted")
	}
}

func TestBuildBounds(t *testing.T) {
	soft := testStop("SOFT", 10, 600, 660)
	hard := testStop("HARD", 10, 600, 660)
	hard.Priority = true
	m, err := Build(testAnchor, []model.Stop{soft, hard}, uniformMatrix(3, 5, 20),
		fixedFleet("Van", 250, 1), Config{SoftWindowTol: 20})
	if err != nil {
		t.Fatal(err)
	}
	if m.bounds[0].hard || m.bounds[0].enforced.Start != 580 || m.bounds[0].enforced.End != 680 {
		t.Fatalf("soft bound = %+v", m.bounds[0])
	}
	if !m.bounds[1].hard || m.bounds[1].enforced != hard.Window {
		t.Fatalf("hard bound = %+v", m.bounds[1])
	}

	// hard_windows mode enforces every base window
	m2, err := Build(testAnchor, []model.Stop{soft}, uniformMatrix(2, 5, 20),
		fixedFleet("Van", 250, 1), Config{SoftWindowTol: 20, HardWindows: true})
	if err != nil {
		t.Fatal(err)
	}
	if !m2.bounds[0].hard || m2.bounds[0].enforced != soft.Window {
		t.Fatalf("hard_windows bound = %+v", m2.bounds[0])
	}
}

func TestStartMinFromEarliestWindow(t *testing.T) {
	stops := []model.Stop{
		testStop("A", 10, 600, 660),
		testStop("B", 10, 480, 540),
	}
	m, err := Build(testAnchor, stops, uniformMatrix(3, 5, 20), fixedFleet("Van", 250, 1),
		Config{LeadTimeMin: 30})
	if err != nil {
		t.Fatal(err)
	}
	if m.StartMin() != 450 {
		t.Fatalf("StartMin = %d, want 450", m.StartMin())
	}
}

func TestEarliestStartFloorsDeparture(t *testing.T) {
	stops := []model.Stop{testStop("A", 10, 600, 660)}
	m, err := Build(testAnchor, stops, uniformMatrix(2, 5, 20), fixedFleet("Van", 250, 1),
		Config{LeadTimeMin: 30, EarliestStartMin: 590})
	if err != nil {
		t.Fatal(err)
	}
	if m.StartMin() != 590 {
		t.Fatalf("StartMin = %d, want 590", m.StartMin())
	}
}

func TestArenaInstanceIDs(t *testing.T) {
	f := model.Fleet{Entries: []model.FleetEntry{
		{Class: model.VehicleClass{Name: "Motor", CapacityKg: 30, CostPerKm: 0.5}, Count: 2},
	}}
	a := newFleetArena(f, "tier2a")
	if len(a.instances) != 2 {
		t.Fatalf("instances = %d", len(a.instances))
	}
	if a.instances[0].ID != "tier2a/Motor_0" || a.instances[1].ID != "tier2a/Motor_1" {
		t.Fatalf("ids = %s, %s", a.instances[0].ID, a.instances[1].ID)
	}
}

func TestArenaGrowOnlyWhenUnlimited(t *testing.T) {
	fixed := fixedFleet("Van", 250, 1)
	a := newFleetArena(fixed, "")
	if _, ok := a.grow(100); ok {
		t.Fatal("fixed fleet grew")
	}

	unlimited := model.Fleet{Unlimited: true, Entries: []model.FleetEntry{
		{Class: model.VehicleClass{Name: "Motor", CapacityKg: 30, CostPerKm: 0.5}},
		{Class: model.VehicleClass{Name: "Van", CapacityKg: 250, CostPerKm: 2}},
	}}
	a = newFleetArena(unlimited, "")
	inst, ok := a.grow(100)
	if !ok {
		t.Fatal("unlimited fleet refused to grow")
	}
	if inst.Class.Name != "Van" || !inst.Cloned {
		t.Fatalf("grew %+v, want cloned Van", inst)
	}
	// cheapest capable class wins when several fit
	inst, ok = a.grow(20)
	if !ok || inst.Class.Name != "Motor" {
		t.Fatalf("grew %+v, want Motor", inst)
	}
	if _, ok := a.grow(1000); ok {
		t.Fatal("grew beyond every class capacity")
	}
}

func TestScheduleWaitsAndRejects(t *testing.T) {
	stops := []model.Stop{testStop("A", 10, 600, 660)}
	m, err := Build(testAnchor, stops, uniformMatrix(2, 5, 20), fixedFleet("Van", 250, 1),
		Config{SoftWindowTol: 0, HardWindows: true, LeadTimeMin: 30, ServiceTimeMin: 15})
	if err != nil {
		t.Fatal(err)
	}
	inst := m.Instances()[0]
	sched, ok := m.schedule([]int{0}, inst)
	if !ok {
		t.Fatal("schedule infeasible")
	}
	// departs 570, travels 20, waits until 600
	if sched.arrivals[0] != 600 {
		t.Fatalf("arrival = %d, want 600", sched.arrivals[0])
	}

	// capacity breach rejects
	heavy := []model.Stop{testStop("A", 200, 600, 660), testStop("B", 100, 600, 660)}
	m2, err := Build(testAnchor, heavy, uniformMatrix(3, 5, 20), fixedFleet("Van", 250, 1), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m2.schedule([]int{0, 1}, m2.Instances()[0]); ok {
		t.Fatal("overloaded route accepted")
	}
}

func TestScheduleReturnLeg(t *testing.T) {
	f := fixedFleet("Van", 250, 1)
	f.ReturnToAnchor = true
	stops := []model.Stop{testStop("A", 10, 600, 660)}
	m, err := Build(testAnchor, stops, uniformMatrix(2, 5, 20), f, Config{})
	if err != nil {
		t.Fatal(err)
	}
	sched, ok := m.schedule([]int{0}, m.Instances()[0])
	if !ok {
		t.Fatal("schedule infeasible")
	}
	if sched.distKm != 10 {
		t.Fatalf("distance with return = %v, want 10", sched.distKm)
	}
}
