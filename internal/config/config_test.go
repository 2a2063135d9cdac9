package config

import (
	"strings"
	"testing"
	"time"

	"hubroute/internal/model"
)

const sampleYAML = `
depot:
  name: "Main Depot"
  latitude: 52.0907
  longitude: 5.1214
hub:
  enabled: true
  location: { name: "North Hub", latitude: 52.1015, longitude: 5.0850 }
  zones_via_hub: ["north", "northwest"]
  blind_van_schedule:
    departure_time: "05:30"
    arrival_time: "06:00"
  motor_routing:
    start_delivery_after: "06:00"
    on_resupply_failure: "direct"
fleet:
  vehicles:
    - { name: "Motor", capacity_kg: 30, cost_per_km: 0.5, count: 4 }
    - { name: "BlindVan", capacity_kg: 250, cost_per_km: 2.0, count: 1, bulk: true }
  unlimited: false
  return_to_depot: true
solver:
  strategy: "balanced"
  time_budget_sec: 60
  soft_window_tolerance_min: 15
matrix:
  provider: "haversine"
  speed_kph: 25
`

func TestParseSample(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if !f.Hub.Enabled || len(f.Hub.ZonesViaHub) != 2 {
		t.Fatalf("hub section = %+v", f.Hub)
	}
	if got := f.Depot.Model(); got.Name != "Main Depot" || got.Coord.Lat != 52.0907 {
		t.Fatalf("depot = %+v", got)
	}

	cfg := f.SolveConfig()
	if cfg.Strategy != model.StrategyBalanced {
		t.Fatalf("strategy = %v", cfg.Strategy)
	}
	if cfg.TimeBudget != 60*time.Second {
		t.Fatalf("budget = %v", cfg.TimeBudget)
	}
	if cfg.SoftWindowTol != 15 {
		t.Fatalf("tolerance = %d", cfg.SoftWindowTol)
	}

	lastMile, bulk := f.Fleets()
	if len(lastMile.Entries) != 1 || lastMile.Entries[0].Class.Name != "Motor" {
		t.Fatalf("last-mile fleet = %+v", lastMile)
	}
	if len(bulk.Entries) != 1 || bulk.Entries[0].Class.Name != "BlindVan" {
		t.Fatalf("bulk fleet = %+v", bulk)
	}
	if !lastMile.ReturnToAnchor {
		t.Fatal("return_to_depot not carried")
	}

	depart, arrive := f.BulkWindow()
	if depart != 330 || arrive != 360 {
		t.Fatalf("bulk window = %d-%d", depart, arrive)
	}
}

func TestDefaults(t *testing.T) {
	f, err := Parse([]byte(`
depot:
  latitude: 52.0
  longitude: 5.0
fleet:
  vehicles:
    - { name: "Van", capacity_kg: 100, cost_per_km: 1.0 }
`))
	if err != nil {
		t.Fatal(err)
	}
	if f.SolveConfig().SoftWindowTol != 20 {
		t.Fatalf("default tolerance = %d", f.SolveConfig().SoftWindowTol)
	}
	depart, arrive := f.BulkWindow()
	if depart != 330 || arrive != 360 {
		t.Fatalf("default bulk window = %d-%d", depart, arrive)
	}
	if f.CacheTTL() != 24*time.Hour {
		t.Fatalf("default cache ttl = %v", f.CacheTTL())
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no vehicles", `depot: {location: {lat: 1, lng: 1}}`, "fleet.vehicles"},
		{"bad strategy", `
fleet: {vehicles: [{name: V, capacity_kg: 10, cost_per_km: 1}]}
solver: {strategy: warp}
`, "unknown strategy"},
		{"bad clock", `
fleet: {vehicles: [{name: V, capacity_kg: 10, cost_per_km: 1}]}
hub: {blind_van_schedule: {departure_time: "29:00"}}
`, "invalid time"},
		{"bad fallback", `
fleet: {vehicles: [{name: V, capacity_kg: 10, cost_per_km: 1}]}
hub: {motor_routing: {on_resupply_failure: retry}}
`, "on_resupply_failure"},
		{"hub without bulk vehicle", `
fleet: {vehicles: [{name: V, capacity_kg: 10, cost_per_km: 1}]}
hub: {enabled: true}
`, "no bulk vehicle"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestMotorStart(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	// sample releases motors exactly at the blind-van arrival
	if got := f.MotorStart(); got != 360 {
		t.Fatalf("motor start = %d, want 360", got)
	}

	f.Hub.Motor.StartDeliveryAfter = "06:30"
	if got := f.MotorStart(); got != 390 {
		t.Fatalf("motor start = %d, want 390", got)
	}

	// an earlier release than the resupply arrival is impossible
	f.Hub.Motor.StartDeliveryAfter = "05:00"
	if got := f.MotorStart(); got != 360 {
		t.Fatalf("motor start = %d, want the arrival floor 360", got)
	}

	f.Hub.Motor.StartDeliveryAfter = ""
	if got := f.MotorStart(); got != 360 {
		t.Fatalf("default motor start = %d, want 360", got)
	}
}

func TestMultiTripSection(t *testing.T) {
	f, err := Parse([]byte(`
depot: {latitude: 52.0, longitude: 5.0}
fleet:
  vehicles:
    - { name: "Van", capacity_kg: 100, cost_per_km: 1.0 }
solver:
  strategy: balanced
  multi_trip:
    enabled: true
    buffer_minutes: 45
    max_trips_per_vehicle: 2
    gap_threshold_minutes: 90
`))
	if err != nil {
		t.Fatal(err)
	}
	mt := f.MultiTrip()
	if !mt.Enabled || mt.BufferMin != 45 || mt.MaxTrips != 2 || mt.GapMin != 90 {
		t.Fatalf("multi-trip config = %+v", mt)
	}
}

func TestSourceModeValidation(t *testing.T) {
	_, err := Parse([]byte(`
fleet: {vehicles: [{name: V, capacity_kg: 10, cost_per_km: 1}]}
hub: {source_assignment: {mode: nearest}}
`))
	if err == nil || !strings.Contains(err.Error(), "source_assignment.mode") {
		t.Fatalf("err = %v", err)
	}
}
