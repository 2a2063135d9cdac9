package solve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hubroute/internal/matrix"
	"hubroute/internal/model"
)

// MultiTripConfig tunes trip-wave solving: stops are clustered by window
// gaps, every cluster is solved with the full fleet, and physical vehicles
// that return early enough run again in a later wave.
type MultiTripConfig struct {
	Enabled        bool
	BufferMin      int // turnaround between two trips of one vehicle
	MaxTrips       int // trips per physical vehicle
	GapMin         int // window gap that opens a new cluster
	MinClusterSize int // clusters below this merge into a neighbor
}

func (c MultiTripConfig) withDefaults() MultiTripConfig {
	if c.BufferMin <= 0 {
		c.BufferMin = 60
	}
	if c.MaxTrips <= 0 {
		c.MaxTrips = 3
	}
	if c.GapMin <= 0 {
		c.GapMin = 60
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 1
	}
	return c
}

// windowCluster is one trip wave: stop indices whose windows sit close
// enough together to be served in a single departure.
type windowCluster struct {
	stops         []int
	earliestStart int
	latestEnd     int
}

// clusterByWindow groups stops into waves separated by window gaps larger
// than gapMin. Clusters smaller than minSize merge into the previous one.
// Returned clusters are sorted by earliest window start.
func clusterByWindow(stops []model.Stop, gapMin, minSize int) []windowCluster {
	if len(stops) == 0 {
		return nil
	}
	order := make([]int, len(stops))
	for i := range stops {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return stops[order[a]].Window.Start < stops[order[b]].Window.Start
	})

	var out []windowCluster
	curr := windowCluster{
		stops:         []int{order[0]},
		earliestStart: stops[order[0]].Window.Start,
		latestEnd:     stops[order[0]].Window.End,
	}
	for _, si := range order[1:] {
		w := stops[si].Window
		if w.Start-curr.latestEnd > gapMin {
			out = append(out, curr)
			curr = windowCluster{stops: []int{si}, earliestStart: w.Start, latestEnd: w.End}
			continue
		}
		curr.stops = append(curr.stops, si)
		if w.End > curr.latestEnd {
			curr.latestEnd = w.End
		}
	}
	out = append(out, curr)

	// absorb undersized clusters into the previous wave
	merged := out[:0]
	for _, c := range out {
		if len(c.stops) < minSize && len(merged) > 0 {
			prev := &merged[len(merged)-1]
			prev.stops = append(prev.stops, c.stops...)
			if c.latestEnd > prev.latestEnd {
				prev.latestEnd = c.latestEnd
			}
			continue
		}
		merged = append(merged, c)
	}
	if len(merged) > 1 && len(merged[0].stops) < minSize {
		merged[1].stops = append(merged[0].stops, merged[1].stops...)
		if merged[0].earliestStart < merged[1].earliestStart {
			merged[1].earliestStart = merged[0].earliestStart
		}
		merged = merged[1:]
	}
	return merged
}

// SolveMultiTrip solves one tier in trip waves. The matrix is indexed
// [anchor(0), stops(1..)] like Build. With a single wave (or the feature
// off) it degrades to a plain solve.
func SolveMultiTrip(ctx context.Context, anchor model.Location, stops []model.Stop, travel matrix.Matrix, fleet model.Fleet, cfg Config, mt MultiTripConfig) (model.RoutingSolution, Metrics, error) {
	mt = mt.withDefaults()
	cfg = cfg.withDefaults()
	clusters := clusterByWindow(stops, mt.GapMin, mt.MinClusterSize)
	if !mt.Enabled || len(clusters) <= 1 {
		m, err := Build(anchor, stops, travel, fleet, cfg)
		if err != nil {
			return model.RoutingSolution{}, Metrics{}, err
		}
		return m.Solve(ctx)
	}

	start := time.Now()
	per := cfg.TimeBudget / time.Duration(len(clusters))
	if min := 30 * time.Second; per < min && cfg.TimeBudget > min {
		per = min
	}

	out := model.RoutingSolution{Strategy: cfg.Strategy}
	var met Metrics
	var routes []model.Route
	var ends []int // route end at the anchor, parallel to routes
	for _, cl := range clusters {
		indices := make([]int, 0, len(cl.stops)+1)
		indices = append(indices, 0)
		sub := make([]model.Stop, 0, len(cl.stops))
		for _, si := range cl.stops {
			indices = append(indices, si+1)
			sub = append(sub, stops[si])
		}
		ccfg := cfg
		ccfg.TimeBudget = per
		m, err := Build(anchor, sub, travel.Slice(indices), fleet, ccfg)
		if err != nil {
			return model.RoutingSolution{}, met, err
		}
		sol, cm, err := m.Solve(ctx)
		if err != nil {
			return model.RoutingSolution{}, met, err
		}
		met = mergeMetrics(met, cm)
		out.Unassigned = append(out.Unassigned, sol.Unassigned...)
		out.Objective += sol.Objective
		for _, rt := range sol.Routes {
			routes = append(routes, rt)
			ends = append(ends, routeEnd(rt, stops, travel))
		}
	}

	chainTrips(routes, ends, cfg.InstanceTag, mt)
	out.Routes = routes
	out.Recompute()
	met.Elapsed = time.Since(start)
	return out, met, nil
}

// routeEnd is when the vehicle is back at the anchor after its last visit.
func routeEnd(r model.Route, stops []model.Stop, travel matrix.Matrix) int {
	if len(r.Visits) == 0 {
		return r.DepartureMin
	}
	last := r.Visits[len(r.Visits)-1]
	node := 0
	for i, s := range stops {
		if s.ID == last.StopID {
			node = i + 1
			break
		}
	}
	return last.DepartureMin + int(travel.DurationMin[node][0])
}

// chainTrips reassigns routes to physical vehicles. Waves arrive in
// chronological order; a route reuses the earliest-free vehicle of its
// class whose previous trip ended buffer minutes before this departure.
func chainTrips(routes []model.Route, ends []int, tag string, mt MultiTripConfig) {
	type physical struct {
		id      string
		class   string
		trips   int
		lastEnd int
	}
	var phys []*physical
	next := 0
	newID := func(class string) string {
		id := fmt.Sprintf("%s_%d", class, next)
		if tag != "" {
			id = tag + "/" + id
		}
		next++
		return id
	}
	for i := range routes {
		rt := &routes[i]
		var pick *physical
		for _, p := range phys {
			if p.class != rt.VehicleClass || p.trips >= mt.MaxTrips {
				continue
			}
			if p.lastEnd+mt.BufferMin > rt.DepartureMin {
				continue
			}
			if pick == nil || p.lastEnd < pick.lastEnd {
				pick = p
			}
		}
		if pick == nil {
			pick = &physical{id: newID(rt.VehicleClass), class: rt.VehicleClass}
			phys = append(phys, pick)
		}
		pick.trips++
		pick.lastEnd = ends[i]
		rt.VehicleID = pick.id
		rt.TripNumber = pick.trips
	}
}

func mergeMetrics(a, b Metrics) Metrics {
	a.Iterations += b.Iterations
	a.Improvements += b.Improvements
	a.AcceptedWorse += b.AcceptedWorse
	for i := range a.RemovalSelects {
		a.RemovalSelects[i] += b.RemovalSelects[i]
		a.InsertSelects[i] += b.InsertSelects[i]
	}
	a.BestObjective += b.BestObjective
	a.FinalObjective += b.FinalObjective
	a.CloneCount += b.CloneCount
	a.Stagnated = a.Stagnated || b.Stagnated
	return a
}
