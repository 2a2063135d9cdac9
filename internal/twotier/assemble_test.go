package twotier

import (
	"errors"
	"strings"
	"testing"

	"hubroute/internal/model"
)

func validStops() []model.Stop {
	return []model.Stop{
		zonedStop("A", "north", 20, 600, 720),
		zonedStop("B", "south", 30, 600, 720),
	}
}

func visit(stopID string, seq, arr int, cum float64) model.Visit {
	return model.Visit{StopID: stopID, Seq: seq, ArrivalMin: arr, DepartureMin: arr + 15, CumWeightKg: cum}
}

func TestValidateCompositeAccepts(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "tier2a/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "tier2b/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("B", 0, 610, 30)}},
		},
	}
	if err := ValidateComposite(validStops(), sol, 20); err != nil {
		t.Fatalf("valid composite rejected: %v", err)
	}
}

func TestValidateCompositeSharedVehicle(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "tier2a/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "tier2a/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("B", 0, 610, 30)}},
		},
	}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "appears in routes")
}

func TestValidateCompositeStopTwice(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "v1", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "v2", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 610, 20), visit("B", 1, 640, 50)}},
		},
	}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "assigned to routes")
}

func TestValidateCompositeMissingStop(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "v1", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
		},
	}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "neither assigned nor unassigned")
}

func TestValidateCompositeAssignedAndUnassigned(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "v1", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "v2", DepartureMin: 570,
				Visits: []model.Visit{visit("B", 0, 610, 30)}},
		},
		Unassigned: []model.UnassignedStop{{StopID: "A", Cause: model.CauseCapacity}},
	}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "both assigned and unassigned")
}

func TestValidateCompositeUnassignedWithoutCause(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierHub, VehicleID: "v1", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
		},
		Unassigned: []model.UnassignedStop{{StopID: "B"}},
	}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "has no cause")
}

func TestValidateCompositeTimeRegression(t *testing.T) {
	r := model.Route{ID: "r1", Tier: TierDirect, VehicleID: "v1", DepartureMin: 570,
		Visits: []model.Visit{
			visit("A", 0, 620, 20),
			visit("B", 1, 600, 50), // arrives before previous departure
		}}
	sol := &model.RoutingSolution{Routes: []model.Route{r}}
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "before previous departure")
}

func TestValidateCompositeWindowViolation(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "r1", Tier: TierDirect, VehicleID: "v1", DepartureMin: 400,
				Visits: []model.Visit{visit("A", 0, 500, 20), visit("B", 1, 610, 50)}},
		},
	}
	// 500 is outside [600-20, 720+20]
	err := ValidateComposite(validStops(), sol, 20)
	assertViolation(t, err, "outside window")
}

func TestValidateCompositeBulkExemptFromStopUnion(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "b1", Tier: TierBulk, VehicleID: "tier1/BlindVan_0", DepartureMin: 330,
				Visits: []model.Visit{visit("HUB_LOAD_1", 0, 350, 250)}},
			{ID: "r1", Tier: TierHub, VehicleID: "tier2a/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "tier2b/Motor_0", DepartureMin: 570,
				Visits: []model.Visit{visit("B", 0, 610, 30)}},
		},
	}
	if err := ValidateComposite(validStops(), sol, 20); err != nil {
		t.Fatalf("bulk route should not join the stop union: %v", err)
	}
}

func TestAggregate(t *testing.T) {
	sol := &model.RoutingSolution{
		Routes: []model.Route{
			{ID: "b1", Tier: TierBulk, VehicleID: "tier1/BlindVan_0", DistanceKm: 10, Cost: 20,
				Visits: []model.Visit{visit("HUB_LOAD_1", 0, 350, 250)}},
			{ID: "r1", Tier: TierHub, VehicleID: "tier2a/Motor_0", DistanceKm: 5, Cost: 2.5,
				Visits: []model.Visit{visit("A", 0, 600, 20)}},
			{ID: "r2", Tier: TierDirect, VehicleID: "tier2b/Motor_0", DistanceKm: 8, Cost: 4,
				Visits: []model.Visit{visit("B", 0, 610, 30)}},
			{ID: "empty", Tier: TierDirect, VehicleID: "tier2b/Motor_1"},
		},
		Unassigned: []model.UnassignedStop{{StopID: "C", Cause: model.CauseTimeWindow}},
	}
	agg := Aggregate(sol)
	if agg.VehiclesUsed != 3 {
		t.Fatalf("vehicles = %d", agg.VehiclesUsed)
	}
	if agg.TotalDistanceKm != 23 || agg.TotalCost != 26.5 {
		t.Fatalf("totals = %v km, %v cost", agg.TotalDistanceKm, agg.TotalCost)
	}
	if agg.StopsServed != 2 {
		t.Fatalf("served = %d (bulk loads must not count)", agg.StopsServed)
	}
	if agg.StopsUnassigned != 1 {
		t.Fatalf("unassigned = %d", agg.StopsUnassigned)
	}
	if agg.PerVehicleCost["tier2a/Motor_0"] != 2.5 {
		t.Fatalf("per-vehicle = %v", agg.PerVehicleCost)
	}
}

func assertViolation(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected violation containing %q", substr)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error is not a ValidationError: %v", err)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("violations %v missing %q", ve.Violations, substr)
	}
}
