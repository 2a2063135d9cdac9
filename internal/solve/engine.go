package solve

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"hubroute/internal/model"
)

// Objective weights. Deviation is soft-window lateness/earliness in minutes;
// the unassigned penalty dominates every other term so the search always
// prefers serving a stop over dropping it.
const (
	deviationPenalty  = 25.0
	unassignedPenalty = 1e6
)

func openRoutePenalty(s model.Strategy) float64 {
	switch s {
	case model.StrategyMinimizeVehicles:
		return 1e4
	case model.StrategyBalanced:
		return 1e3
	default:
		return 0
	}
}

// Metrics reports search behavior for one solve.
type Metrics struct {
	Iterations     int           `json:"iterations"`
	Improvements   int           `json:"improvements"`
	AcceptedWorse  int           `json:"acceptedWorse"`
	RemovalSelects [2]int        `json:"removalSelects"` // random, shaw
	InsertSelects  [2]int        `json:"insertSelects"`  // greedy, regret2
	BestObjective  float64       `json:"bestObjective"`
	FinalObjective float64       `json:"finalObjective"`
	CloneCount     int           `json:"cloneCount"`
	Elapsed        time.Duration `json:"elapsedNs"`
	Stagnated      bool          `json:"stagnated"`
}

// assignment is the search-internal solution: one visit order per vehicle
// instance (parallel to the arena), plus the unassigned stop set.
type assignment struct {
	routes     [][]int
	unassigned []int
}

func (a *assignment) clone() *assignment {
	out := &assignment{
		routes:     make([][]int, len(a.routes)),
		unassigned: append([]int(nil), a.unassigned...),
	}
	for i, r := range a.routes {
		out.routes[i] = append([]int(nil), r...)
	}
	return out
}

func (a *assignment) activeRoutes() int {
	n := 0
	for _, r := range a.routes {
		if len(r) > 0 {
			n++
		}
	}
	return n
}

// Solve runs the bounded-time metaheuristic over the built model. It never
// returns an assignment that violates a hard dimension bound; stops that
// cannot be placed come back in the solution's unassigned list with a cause.
func (m *Model) Solve(ctx context.Context) (model.RoutingSolution, Metrics, error) {
	start := time.Now()
	seed := m.Cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	curr := m.seedSolution()
	best := curr.clone()
	bestObj := m.evaluate(best)

	remW := [2]float64{1, 1}
	insW := [2]float64{1, 1}
	temp, cooling := m.annealing(bestObj)

	met := Metrics{BestObjective: bestObj}
	deadline := start.Add(m.Cfg.TimeBudget)
	stagnant := 0

	for len(m.Stops) > 0 {
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			// caller deadline hit: return the best feasible seen so far
			goto done
		default:
		}
		if stagnant >= m.Cfg.StagnationLimit {
			met.Stagnated = true
			break
		}
		met.Iterations++

		k := 1 + rng.Intn(3)
		rop := selectOp(remW, rng)
		iop := selectOp(insW, rng)
		met.RemovalSelects[rop]++
		met.InsertSelects[iop]++

		cand := curr.clone()
		var removed []int
		switch rop {
		case 0:
			removed = m.randomRemoval(cand, k, rng)
		case 1:
			removed = m.shawRemoval(cand, k, rng)
		}
		removed = append(removed, cand.unassigned...)
		cand.unassigned = nil
		switch iop {
		case 0:
			m.greedyInsert(cand, removed)
		case 1:
			m.regretInsert(cand, removed)
		}
		m.twoOptImprove(cand)
		m.relocateImprove(cand)
		if met.Iterations%10 == 0 {
			m.crossExchangeImprove(cand)
		}

		obj := m.evaluate(cand)
		currObj := m.evaluate(curr)
		accept := obj < currObj
		if !accept && temp > 0 {
			accept = rng.Float64() < math.Exp(-(obj-currObj)/temp)
		}
		if accept {
			curr = cand
			if obj+1e-9 < bestObj {
				best = cand.clone()
				bestObj = obj
				met.Improvements++
				met.BestObjective = bestObj
				remW[rop] += 0.1
				insW[iop] += 0.1
				stagnant = 0
				continue
			}
			met.AcceptedWorse++
			remW[rop] += 0.01
			insW[iop] += 0.01
		} else {
			remW[rop] = math.Max(0.01, remW[rop]*0.999)
			insW[iop] = math.Max(0.01, insW[iop]*0.999)
		}
		temp *= cooling
		stagnant++
	}

done:
	met.FinalObjective = bestObj
	met.Elapsed = time.Since(start)
	for _, inst := range m.arena.instances {
		if inst.Cloned {
			met.CloneCount++
		}
	}
	return m.extract(best, met.Elapsed), met, nil
}

// annealing picks the acceptance schedule per strategy. MinimizeVehicles
// runs pure descent under heavy route-opening penalties; the cost-driven
// strategies accept worse moves early to escape local minima.
func (m *Model) annealing(initialObj float64) (temp, cooling float64) {
	switch m.Cfg.Strategy {
	case model.StrategyMinimizeCost:
		return math.Max(1, initialObj*0.05), 0.995
	case model.StrategyBalanced:
		return math.Max(1, initialObj*0.02), 0.99
	default:
		return 0, 1
	}
}

// seedSolution builds the first solution by cheapest feasible insertion,
// growing the arena when capacity runs out and the fleet is unlimited.
func (m *Model) seedSolution() *assignment {
	a := &assignment{routes: make([][]int, len(m.arena.instances))}
	pending := make([]int, len(m.Stops))
	for i := range m.Stops {
		pending[i] = i
	}
	m.greedyInsert(a, pending)
	return a
}

// syncRoutes grows the route slice to match the arena after cloning.
func (m *Model) syncRoutes(a *assignment) {
	for len(a.routes) < len(m.arena.instances) {
		a.routes = append(a.routes, nil)
	}
}

// greedyInsert places stops by cheapest feasible insertion across all
// instances and positions. A stop that fits nowhere triggers one fleet
// scaling attempt before it is declared unassigned.
func (m *Model) greedyInsert(a *assignment, stops []int) {
	m.syncRoutes(a)
	pending := append([]int(nil), stops...)
	for len(pending) > 0 {
		bestStop, bestVeh, bestPos := -1, -1, -1
		bestDelta := math.MaxFloat64
		for pi, si := range pending {
			for vi := range a.routes {
				inst := m.arena.instances[vi]
				base, _ := m.schedule(a.routes[vi], inst)
				for pos := 0; pos <= len(a.routes[vi]); pos++ {
					_, sched, ok := m.fits(a.routes[vi], inst, si, pos)
					if !ok {
						continue
					}
					delta := sched.distKm - base.distKm + float64(sched.deviation-base.deviation)
					if delta < bestDelta {
						bestDelta = delta
						bestStop, bestVeh, bestPos = pi, vi, pos
					}
				}
			}
		}
		if bestStop < 0 {
			// nothing fits; try growing the arena for the heaviest pending stop
			if _, ok := m.tryScale(a, pending); ok {
				continue
			}
			a.unassigned = append(a.unassigned, pending...)
			return
		}
		si := pending[bestStop]
		cand, _, _ := m.fits(a.routes[bestVeh], m.arena.instances[bestVeh], si, bestPos)
		a.routes[bestVeh] = cand
		pending = append(pending[:bestStop], pending[bestStop+1:]...)
	}
}

// regretInsert places stops by largest regret-2 first: the stop whose
// second-best insertion is most worse than its best goes in earliest.
func (m *Model) regretInsert(a *assignment, stops []int) {
	m.syncRoutes(a)
	pending := append([]int(nil), stops...)
	for len(pending) > 0 {
		type choice struct {
			pi, vi, pos  int
			best, second float64
		}
		var pick *choice
		for pi, si := range pending {
			c := choice{pi: pi, vi: -1, best: math.MaxFloat64, second: math.MaxFloat64}
			for vi := range a.routes {
				inst := m.arena.instances[vi]
				base, _ := m.schedule(a.routes[vi], inst)
				for pos := 0; pos <= len(a.routes[vi]); pos++ {
					_, sched, ok := m.fits(a.routes[vi], inst, si, pos)
					if !ok {
						continue
					}
					delta := sched.distKm - base.distKm + float64(sched.deviation-base.deviation)
					if delta < c.best {
						c.second = c.best
						c.best = delta
						c.vi, c.pos = vi, pos
					} else if delta < c.second {
						c.second = delta
					}
				}
			}
			if c.vi < 0 {
				continue
			}
			if pick == nil || (c.second-c.best) > (pick.second-pick.best) {
				cc := c
				pick = &cc
			}
		}
		if pick == nil {
			if _, ok := m.tryScale(a, pending); ok {
				continue
			}
			a.unassigned = append(a.unassigned, pending...)
			return
		}
		si := pending[pick.pi]
		cand, _, _ := m.fits(a.routes[pick.vi], m.arena.instances[pick.vi], si, pick.pos)
		a.routes[pick.vi] = cand
		pending = append(pending[:pick.pi], pending[pick.pi+1:]...)
	}
}

// tryScale grows the arena for the heaviest pending stop when the fleet is
// unlimited and capacity is the blocker. Returns the new instance index.
func (m *Model) tryScale(a *assignment, pending []int) (int, bool) {
	heaviest := 0.0
	for _, si := range pending {
		if w := m.Stops[si].WeightKg; w > heaviest {
			heaviest = w
		}
	}
	if _, ok := m.arena.grow(heaviest); !ok {
		return 0, false
	}
	m.syncRoutes(a)
	return len(a.routes) - 1, true
}

func (m *Model) randomRemoval(a *assignment, k int, rng *rand.Rand) []int {
	var present []int
	for _, r := range a.routes {
		present = append(present, r...)
	}
	if len(present) == 0 {
		return nil
	}
	removed := make([]int, 0, k)
	for i := 0; i < k && len(present) > 0; i++ {
		j := rng.Intn(len(present))
		removed = append(removed, present[j])
		present = append(present[:j], present[j+1:]...)
	}
	m.dropStops(a, removed)
	return removed
}

// shawRemoval removes k stops related to a random seed stop by geography
// and window overlap, so reinsertion can recombine them.
func (m *Model) shawRemoval(a *assignment, k int, rng *rand.Rand) []int {
	var present []int
	for _, r := range a.routes {
		present = append(present, r...)
	}
	if len(present) == 0 {
		return nil
	}
	seed := present[rng.Intn(len(present))]
	type rel struct {
		si    int
		score float64
	}
	rels := make([]rel, 0, len(present))
	ss := m.Stops[seed]
	for _, si := range present {
		if si == seed {
			continue
		}
		s := m.Stops[si]
		geo := m.Travel.DistanceKm[seed+1][si+1]
		overlap := windowOverlap(ss.Window, s.Window)
		rels = append(rels, rel{si: si, score: geo - 0.1*float64(overlap)})
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].score < rels[j].score })
	removed := []int{seed}
	for i := 0; i < len(rels) && len(removed) < k; i++ {
		removed = append(removed, rels[i].si)
	}
	m.dropStops(a, removed)
	return removed
}

func (m *Model) dropStops(a *assignment, removed []int) {
	if len(removed) == 0 {
		return
	}
	rm := make(map[int]bool, len(removed))
	for _, si := range removed {
		rm[si] = true
	}
	for vi, r := range a.routes {
		keep := r[:0]
		for _, si := range r {
			if !rm[si] {
				keep = append(keep, si)
			}
		}
		a.routes[vi] = keep
	}
}

// evaluate scores an assignment: route cost plus fixed and strategy
// penalties, soft-window deviation, and the dominating unassigned penalty.
// Assignments reachable through the move set are always hard-feasible.
func (m *Model) evaluate(a *assignment) float64 {
	open := openRoutePenalty(m.Cfg.Strategy)
	total := 0.0
	for vi, r := range a.routes {
		if len(r) == 0 {
			continue
		}
		inst := m.arena.instances[vi]
		sched, ok := m.schedule(r, inst)
		if !ok {
			return math.MaxFloat64 // moves never produce a hard-infeasible route
		}
		total += sched.distKm*inst.Class.CostPerKm + inst.Class.FixedCost + open
		total += deviationPenalty * float64(sched.deviation)
	}
	total += unassignedPenalty * float64(len(a.unassigned))
	return total
}

// extract converts the best assignment into the public solution form,
// tagging every unassigned stop with its cause.
func (m *Model) extract(a *assignment, elapsed time.Duration) model.RoutingSolution {
	sol := model.RoutingSolution{
		Strategy:    m.Cfg.Strategy,
		Objective:   m.evaluate(a),
		ComputeTime: elapsed,
	}
	for vi, r := range a.routes {
		if len(r) == 0 {
			continue
		}
		inst := m.arena.instances[vi]
		sched, ok := m.schedule(r, inst)
		if !ok {
			continue
		}
		route := model.Route{
			ID:           uuid.NewString(),
			VehicleID:    inst.ID,
			VehicleClass: inst.Class.Name,
			Anchor:       m.Anchor.Name,
			DepartureMin: m.routeDeparture(r, sched),
			DistanceKm:   sched.distKm,
			Cost:         sched.distKm*inst.Class.CostPerKm + inst.Class.FixedCost,
		}
		cum := 0.0
		prev := 0
		for seq, si := range r {
			cum += m.Stops[si].WeightKg
			route.Visits = append(route.Visits, model.Visit{
				StopID:       m.Stops[si].ID,
				Seq:          seq,
				ArrivalMin:   sched.arrivals[seq],
				DepartureMin: sched.arrivals[seq] + m.Cfg.ServiceTimeMin,
				LegKm:        m.Travel.DistanceKm[prev][si+1],
				CumWeightKg:  cum,
			})
			prev = si + 1
		}
		sol.Routes = append(sol.Routes, route)
	}
	for _, si := range a.unassigned {
		sol.Unassigned = append(sol.Unassigned, model.UnassignedStop{
			StopID: m.Stops[si].ID,
			Cause:  m.diagnose(a, si),
		})
	}
	sol.Recompute()
	return sol
}

// routeDeparture publishes the anchor departure for one scheduled route:
// lead time ahead of the earliest window on the route, never before the
// model start, and never later than the first arrival minus its leg. The
// schedule clamp keeps the departure consistent with widened soft windows.
func (m *Model) routeDeparture(r []int, sched scheduleOut) int {
	earliest := 24 * 60
	for _, si := range r {
		if w := m.Stops[si].Window.Start; w < earliest {
			earliest = w
		}
	}
	dep := earliest - m.Cfg.LeadTimeMin
	if dep < m.startMin {
		dep = m.startMin
	}
	if latest := sched.arrivals[0] - int(m.Travel.DurationMin[0][r[0]+1]); dep > latest {
		dep = latest
	}
	return dep
}

// diagnose tags why a stop stayed unassigned, evaluated after any fleet
// scaling: capacity-exhausted, time-window-unsatisfiable, or both.
func (m *Model) diagnose(a *assignment, si int) model.UnassignCause {
	capAny, timeOK := false, false
	for _, inst := range m.arena.instances {
		c, t := m.standaloneFeasible(si, inst)
		capAny = capAny || c
		timeOK = timeOK || t
	}
	switch {
	case !capAny && !timeOK:
		return model.CauseBoth
	case !capAny:
		return model.CauseCapacity
	case !timeOK:
		return model.CauseTimeWindow
	}
	// standalone-feasible but combinatorially blocked: capacity if no
	// route has residual room, otherwise the windows could not be met
	w := m.Stops[si].WeightKg
	for vi, r := range a.routes {
		sched, ok := m.schedule(r, m.arena.instances[vi])
		if ok && sched.loadKg+w <= m.arena.instances[vi].Class.CapacityKg {
			return model.CauseTimeWindow
		}
	}
	return model.CauseCapacity
}

func selectOp(weights [2]float64, rng *rand.Rand) int {
	sum := weights[0] + weights[1]
	if sum <= 0 {
		return 0
	}
	if rng.Float64()*sum <= weights[0] {
		return 0
	}
	return 1
}

func windowOverlap(a, b model.TimeWindow) int {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if end < start {
		return 0
	}
	return end - start
}
