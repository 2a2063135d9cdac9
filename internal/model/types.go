package model

import (
	"fmt"
	"time"
)

// Times are minutes since midnight throughout; distances are kilometers,
// weights are kilograms.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (g GeoPoint) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// TimeWindow is a delivery window [Start, End] in minutes since midnight.
type TimeWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w TimeWindow) Valid() bool {
	return w.Start >= 0 && w.End <= 24*60 && w.Start < w.End
}

// Widen returns the window extended by tol minutes on both sides, clamped to the day.
func (w TimeWindow) Widen(tol int) TimeWindow {
	out := TimeWindow{Start: w.Start - tol, End: w.End + tol}
	if out.Start < 0 {
		out.Start = 0
	}
	if out.End > 24*60 {
		out.End = 24 * 60
	}
	return out
}

// Stop is a single delivery point. Immutable once classified.
type Stop struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Address  string     `json:"address,omitempty"`
	Location GeoPoint   `json:"location"`
	WeightKg float64    `json:"weightKg"`
	Window   TimeWindow `json:"window"`
	Priority bool       `json:"priority,omitempty"`
	Zone     string     `json:"zone,omitempty"`
}

// ReadyTime is the earliest departure from the anchor for this stop:
// window start minus the configured lead, floored at midnight.
func (s Stop) ReadyTime(leadMin int) int {
	t := s.Window.Start - leadMin
	if t < 0 {
		t = 0
	}
	return t
}

func (s Stop) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("stop: missing id")
	}
	if s.WeightKg <= 0 {
		return fmt.Errorf("stop %s: weight must be positive", s.ID)
	}
	if !s.Location.Valid() {
		return fmt.Errorf("stop %s: invalid coordinates (%v, %v)", s.ID, s.Location.Lat, s.Location.Lng)
	}
	if !s.Window.Valid() {
		return fmt.Errorf("stop %s: invalid time window [%d, %d]", s.ID, s.Window.Start, s.Window.End)
	}
	return nil
}

// Location is a named route anchor (depot or hub).
type Location struct {
	Name    string   `json:"name"`
	Address string   `json:"address,omitempty"`
	Coord   GeoPoint `json:"coord"`
}

// VehicleClass describes one vehicle type in the fleet.
type VehicleClass struct {
	Name       string  `json:"name"`
	CapacityKg float64 `json:"capacityKg"`
	CostPerKm  float64 `json:"costPerKm"`
	FixedCost  float64 `json:"fixedCost,omitempty"`
}

func (c VehicleClass) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("vehicle class: missing name")
	}
	if c.CapacityKg <= 0 {
		return fmt.Errorf("vehicle class %s: capacity must be positive", c.Name)
	}
	if c.CostPerKm <= 0 {
		return fmt.Errorf("vehicle class %s: costPerKm must be positive", c.Name)
	}
	return nil
}

// FleetEntry is one class with its fixed instance count.
type FleetEntry struct {
	Class VehicleClass `json:"class"`
	Count int          `json:"count"`
}

// Fleet is the ordered set of vehicle classes available to one tier.
// When Unlimited is set the model builder may clone extra instances of a
// class on demand instead of failing for lack of capacity.
type Fleet struct {
	Entries        []FleetEntry `json:"entries"`
	Unlimited      bool         `json:"unlimited,omitempty"`
	ReturnToAnchor bool         `json:"returnToAnchor"`
}

func (f Fleet) Validate() error {
	if len(f.Entries) == 0 {
		return fmt.Errorf("fleet: at least one vehicle class required")
	}
	for _, e := range f.Entries {
		if err := e.Class.Validate(); err != nil {
			return err
		}
		if e.Count < 0 {
			return fmt.Errorf("vehicle class %s: count must be >= 0", e.Class.Name)
		}
	}
	return nil
}

// MaxCapacityKg returns the largest class capacity in the fleet.
func (f Fleet) MaxCapacityKg() float64 {
	max := 0.0
	for _, e := range f.Entries {
		if e.Class.CapacityKg > max {
			max = e.Class.CapacityKg
		}
	}
	return max
}

// Strategy selects the improvement metaheuristic. Closed set; parse at the edge.
type Strategy int

const (
	StrategyBalanced Strategy = iota
	StrategyMinimizeVehicles
	StrategyMinimizeCost
)

func (s Strategy) String() string {
	switch s {
	case StrategyMinimizeVehicles:
		return "minimize_vehicles"
	case StrategyMinimizeCost:
		return "minimize_cost"
	default:
		return "balanced"
	}
}

func ParseStrategy(v string) (Strategy, error) {
	switch v {
	case "", "balanced":
		return StrategyBalanced, nil
	case "minimize_vehicles":
		return StrategyMinimizeVehicles, nil
	case "minimize_cost":
		return StrategyMinimizeCost, nil
	}
	return StrategyBalanced, fmt.Errorf("unknown strategy: %s", v)
}

func (s Strategy) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Strategy) UnmarshalJSON(b []byte) error {
	v := string(b)
	if len(v) >= 2 && v[0] == '"' {
		v = v[1 : len(v)-1]
	}
	p, err := ParseStrategy(v)
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// Visit is one serviced stop on a route.
type Visit struct {
	StopID       string  `json:"stopId"`
	Seq          int     `json:"seq"`
	ArrivalMin   int     `json:"arrivalMin"`
	DepartureMin int     `json:"departureMin"`
	LegKm        float64 `json:"legKm"`
	CumWeightKg  float64 `json:"cumWeightKg"`
}

// Route is the ordered visit sequence of one vehicle instance. It starts
// and ends at the tier anchor, which is not materialized as a Visit.
type Route struct {
	ID           string  `json:"id"`
	Tier         string  `json:"tier,omitempty"`
	VehicleID    string  `json:"vehicleId"`
	VehicleClass string  `json:"vehicleClass"`
	Anchor       string  `json:"anchor,omitempty"`
	TripNumber   int     `json:"tripNumber,omitempty"` // 2+ when a vehicle runs again after an earlier trip
	DepartureMin int     `json:"departureMin"`
	Visits       []Visit `json:"visits"`
	DistanceKm   float64 `json:"distanceKm"`
	Cost         float64 `json:"cost"`
}

// TotalWeightKg is the load carried out of the anchor.
func (r Route) TotalWeightKg() float64 {
	if n := len(r.Visits); n > 0 {
		return r.Visits[n-1].CumWeightKg
	}
	return 0
}

// UnassignCause explains why a stop could not be served.
type UnassignCause string

const (
	CauseCapacity   UnassignCause = "capacity"
	CauseTimeWindow UnassignCause = "time_window"
	CauseBoth       UnassignCause = "both"
	CauseHubFailure UnassignCause = "hub_resupply_failed"
)

type UnassignedStop struct {
	StopID string        `json:"stopId"`
	Cause  UnassignCause `json:"cause"`
}

// RoutingSolution is the output of one tier solve, or the merged composite.
type RoutingSolution struct {
	Routes        []Route          `json:"routes"`
	Unassigned    []UnassignedStop `json:"unassigned,omitempty"`
	Strategy      Strategy         `json:"strategy"`
	Objective     float64          `json:"objective"`
	VehiclesUsed  int              `json:"vehiclesUsed"`
	TotalDistance float64          `json:"totalDistanceKm"`
	TotalCost     float64          `json:"totalCost"`
	ComputeTime   time.Duration    `json:"computeTimeNs"`
}

// Recompute refreshes the aggregate fields from the route list.
func (s *RoutingSolution) Recompute() {
	s.VehiclesUsed = 0
	s.TotalDistance = 0
	s.TotalCost = 0
	for _, r := range s.Routes {
		if len(r.Visits) == 0 {
			continue
		}
		s.VehiclesUsed++
		s.TotalDistance += r.DistanceKm
		s.TotalCost += r.Cost
	}
}

// MinutesToClock formats minutes since midnight as HH:MM.
func MinutesToClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// ClockToMinutes parses HH:MM into minutes since midnight.
func ClockToMinutes(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", v)
	}
	return h*60 + m, nil
}
