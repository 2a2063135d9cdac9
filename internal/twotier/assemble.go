package twotier

import (
	"fmt"
	"sort"
	"strings"

	"hubroute/internal/model"
)

// ValidationError is a fatal post-merge invariant violation. It must never
// occur when the tier solvers honor their contracts; it is surfaced, never
// silently repaired.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("composite solution failed validation: %s", strings.Join(e.Violations, "; "))
}

// ValidateComposite re-checks every hard invariant over the merged solution:
// each input stop assigned exactly once or unassigned-with-cause (never
// both, never neither), per-visit capacity bounds, monotone visit times,
// and no vehicle instance in two routes at once. A vehicle may reappear as
// a later trip, with a distinct trip number and a departure after the
// earlier trip's last visit. Tier-1 bulk routes carry synthetic
// consolidation visits and are exempt from the stop-union check but not
// from capacity or ordering.
func ValidateComposite(stops []model.Stop, sol *model.RoutingSolution, softTol int) error {
	var violations []string

	byID := make(map[string]model.Stop, len(stops))
	for _, s := range stops {
		byID[s.ID] = s
	}

	type trip struct {
		routeID string
		number  int
		depart  int
		lastDep int
	}
	assigned := map[string]string{} // stop ID -> route ID
	vehicles := map[string][]trip{} // vehicle instance -> its trips
	for _, r := range sol.Routes {
		tr := trip{routeID: r.ID, number: r.TripNumber, depart: r.DepartureMin, lastDep: r.DepartureMin}
		if n := len(r.Visits); n > 0 {
			tr.lastDep = r.Visits[n-1].DepartureMin
		}
		for _, prev := range vehicles[r.VehicleID] {
			if prev.number == tr.number {
				violations = append(violations, fmt.Sprintf(
					"vehicle %s appears in routes %s and %s", r.VehicleID, prev.routeID, r.ID))
			}
		}
		vehicles[r.VehicleID] = append(vehicles[r.VehicleID], tr)

		violations = append(violations, validateRoute(r, byID, softTol)...)

		if r.Tier == TierBulk {
			continue // synthetic consolidation visits, not customer stops
		}
		for _, v := range r.Visits {
			if prev, ok := assigned[v.StopID]; ok {
				violations = append(violations, fmt.Sprintf(
					"stop %s assigned to routes %s and %s", v.StopID, prev, r.ID))
			}
			assigned[v.StopID] = r.ID
		}
	}

	for vid, trips := range vehicles {
		if len(trips) < 2 {
			continue
		}
		sort.Slice(trips, func(i, j int) bool { return trips[i].number < trips[j].number })
		for i := 1; i < len(trips); i++ {
			if trips[i].depart < trips[i-1].lastDep {
				violations = append(violations, fmt.Sprintf(
					"vehicle %s: trip %d departs before trip %d finishes",
					vid, trips[i].number, trips[i-1].number))
			}
		}
	}

	unassigned := map[string]bool{}
	for _, u := range sol.Unassigned {
		if u.Cause == "" {
			violations = append(violations, fmt.Sprintf("unassigned stop %s has no cause", u.StopID))
		}
		if unassigned[u.StopID] {
			violations = append(violations, fmt.Sprintf("stop %s listed unassigned twice", u.StopID))
		}
		unassigned[u.StopID] = true
		if _, ok := assigned[u.StopID]; ok {
			violations = append(violations, fmt.Sprintf(
				"stop %s both assigned and unassigned", u.StopID))
		}
	}
	for id := range assigned {
		if _, ok := byID[id]; !ok {
			violations = append(violations, fmt.Sprintf("route visit references unknown stop %s", id))
		}
	}
	for _, s := range stops {
		if _, ok := assigned[s.ID]; !ok && !unassigned[s.ID] {
			violations = append(violations, fmt.Sprintf("stop %s neither assigned nor unassigned", s.ID))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// validateRoute checks one route's dimension bounds: cumulative weight
// monotone and within observable limits, times monotone, no repeated visit.
func validateRoute(r model.Route, byID map[string]model.Stop, softTol int) []string {
	var out []string
	seen := map[string]bool{}
	prevCum := 0.0
	prevDep := r.DepartureMin
	for _, v := range r.Visits {
		if seen[v.StopID] {
			out = append(out, fmt.Sprintf("route %s visits stop %s twice", r.ID, v.StopID))
		}
		seen[v.StopID] = true
		if v.CumWeightKg < prevCum {
			out = append(out, fmt.Sprintf("route %s: cumulative weight decreases at %s", r.ID, v.StopID))
		}
		prevCum = v.CumWeightKg
		if v.ArrivalMin < prevDep {
			out = append(out, fmt.Sprintf("route %s: arrival at %s before previous departure", r.ID, v.StopID))
		}
		if v.DepartureMin < v.ArrivalMin {
			out = append(out, fmt.Sprintf("route %s: departure before arrival at %s", r.ID, v.StopID))
		}
		prevDep = v.DepartureMin
		if v.ArrivalMin < 0 {
			out = append(out, fmt.Sprintf("route %s: negative arrival at %s", r.ID, v.StopID))
		}
		if s, ok := byID[v.StopID]; ok && r.Tier != TierBulk {
			win := s.Window
			if !s.Priority {
				win = win.Widen(softTol)
			}
			if v.ArrivalMin < win.Start || v.ArrivalMin > win.End {
				out = append(out, fmt.Sprintf(
					"route %s: arrival %d at %s outside window [%d, %d]",
					r.ID, v.ArrivalMin, v.StopID, win.Start, win.End))
			}
		}
	}
	return out
}

// AggregateMetrics are the assembler's composite totals for reporting.
type AggregateMetrics struct {
	VehiclesUsed    int                `json:"vehiclesUsed"`
	TotalDistanceKm float64            `json:"totalDistanceKm"`
	TotalCost       float64            `json:"totalCost"`
	PerVehicleCost  map[string]float64 `json:"perVehicleCost"`
	StopsServed     int                `json:"stopsServed"`
	StopsUnassigned int                `json:"stopsUnassigned"`
}

// Aggregate computes composite metrics from a validated solution.
func Aggregate(sol *model.RoutingSolution) AggregateMetrics {
	agg := AggregateMetrics{PerVehicleCost: map[string]float64{}}
	for _, r := range sol.Routes {
		if len(r.Visits) == 0 {
			continue
		}
		agg.VehiclesUsed++
		agg.TotalDistanceKm += r.DistanceKm
		agg.TotalCost += r.Cost
		agg.PerVehicleCost[r.VehicleID] += r.Cost
		if r.Tier != TierBulk {
			agg.StopsServed += len(r.Visits)
		}
	}
	agg.StopsUnassigned = len(sol.Unassigned)
	return agg
}
