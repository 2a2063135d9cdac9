// Package twotier sequences the hub-consolidation solve: bulk depot→hub
// transfer, hub-zone delivery, and direct-zone delivery, then merges and
// re-validates the composite solution.
package twotier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"hubroute/internal/matrix"
	"hubroute/internal/model"
	"hubroute/internal/solve"
	"hubroute/internal/zone"
)

// State is the orchestrator's explicit progress machine. Tier-dependency
// failure is a representable state, not just a returned error.
type State int

const (
	Tier1Pending State = iota
	Tier1Done
	Tier1Failed
	Tier2Running
	Merged
	PartialFailure
)

func (s State) String() string {
	switch s {
	case Tier1Pending:
		return "tier1_pending"
	case Tier1Done:
		return "tier1_done"
	case Tier1Failed:
		return "tier1_failed"
	case Tier2Running:
		return "tier2_running"
	case Merged:
		return "merged"
	default:
		return "partial_failure"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(b []byte) error {
	v := string(b)
	if len(v) >= 2 && v[0] == '"' {
		v = v[1 : len(v)-1]
	}
	switch v {
	case "tier1_pending":
		*s = Tier1Pending
	case "tier1_done":
		*s = Tier1Done
	case "tier1_failed":
		*s = Tier1Failed
	case "tier2_running":
		*s = Tier2Running
	case "merged":
		*s = Merged
	case "partial_failure":
		*s = PartialFailure
	default:
		return fmt.Errorf("unknown state %q", v)
	}
	return nil
}

// Tier names used on routes and in metrics.
const (
	TierBulk   = "tier1"
	TierHub    = "tier2a"
	TierDirect = "tier2b"
)

// HubFallback decides what happens to hub-zone stops when tier 1 fails.
type HubFallback string

const (
	FallbackRerouteDirect HubFallback = "direct"     // deliver from the depot instead
	FallbackUnassigned    HubFallback = "unassigned" // report with hub_resupply_failed
)

// DependencyError is the named tier-1 failure: hub resupply did not happen,
// so the whole hub-zone stop population is affected.
type DependencyError struct {
	Reason string
	Err    error
}

func (e *DependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hub resupply failed: %s: %v", e.Reason, e.Err)
	}
	return "hub resupply failed: " + e.Reason
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Input is everything one two-tier solve consumes. The matrix is indexed
// [depot(0), hub(1), stops(2..)] and is never mutated.
type Input struct {
	SolveID   string
	Stops     []model.Stop
	Fleet     model.Fleet // last-mile classes, fresh instances per tier
	BulkFleet model.Fleet // consolidation classes (tier 1 only)
	Depot     model.Location
	Hub       model.Location
	Travel    matrix.Matrix

	Cfg          solve.Config
	HubZones     []string
	BulkDepart   int         // minutes since midnight, default 05:30
	BulkArrive   int         // default 06:00
	HubStart     int         // earliest hub departure for tier 2a, default BulkArrive
	Fallback     HubFallback // tier-1 failure policy
	HubEnabled   bool        // false routes everything direct
	BulkStrategy model.Strategy
	Source       SourceConfig          // hub-vs-depot assignment policy
	MultiTrip    solve.MultiTripConfig // vehicle reuse across trip waves
}

func (in *Input) withDefaults() {
	if in.BulkDepart <= 0 {
		in.BulkDepart = 330
	}
	if in.BulkArrive <= 0 {
		in.BulkArrive = 360
	}
	// last-mile vehicles cannot leave the hub before resupply arrives
	if in.HubStart < in.BulkArrive {
		in.HubStart = in.BulkArrive
	}
	if in.Fallback == "" {
		in.Fallback = FallbackRerouteDirect
	}
	// tier 1 is a fixed-window transfer; cost is the only open objective
	in.BulkStrategy = model.StrategyMinimizeCost
}

// Result is the full outcome: the merged composite solution plus the
// per-tier solutions for reporting.
type Result struct {
	State     State                  `json:"state"`
	Solution  model.RoutingSolution  `json:"solution"`
	Tier1     *model.RoutingSolution `json:"tier1,omitempty"`
	Tier2a    *model.RoutingSolution `json:"tier2a,omitempty"`
	Tier2b    *model.RoutingSolution `json:"tier2b,omitempty"`
	Summary   zone.Summary           `json:"summary"`
	Tier1Fail string                 `json:"tier1Fail,omitempty"`
}

// Orchestrator owns one two-tier solve. Not reusable across solves.
type Orchestrator struct {
	in    Input
	state State
	cls   *zone.Classifier
}

func New(in Input) (*Orchestrator, error) {
	in.withDefaults()
	if err := in.Fleet.Validate(); err != nil {
		return nil, fmt.Errorf("last-mile fleet: %w", err)
	}
	if in.HubEnabled {
		if err := in.BulkFleet.Validate(); err != nil {
			return nil, fmt.Errorf("bulk fleet: %w", err)
		}
	}
	if err := in.Travel.Validate(); err != nil {
		return nil, err
	}
	if in.Travel.Size() != len(in.Stops)+2 {
		return nil, fmt.Errorf("matrix has %d locations, want %d (depot + hub + %d stops)",
			in.Travel.Size(), len(in.Stops)+2, len(in.Stops))
	}
	for _, s := range in.Stops {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &Orchestrator{in: in, state: Tier1Pending, cls: zone.NewClassifier(in.HubZones)}, nil
}

func (o *Orchestrator) State() State { return o.state }

// Run executes the three-stage machine. Tier 1 resolves first; tiers 2a
// and 2b then run concurrently since they share no data. Per-stop search
// infeasibility never aborts the run; structural and post-merge
// validation failures do.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{Summary: o.cls.Summarize(o.in.Stops)}

	hubStops, directStops := o.splitStops()
	if !o.in.HubEnabled {
		directStops = o.in.Stops
		hubStops = nil
	}
	log.Printf("twotier: %d hub stops, %d direct stops", len(hubStops), len(directStops))

	var hubFailureUnassigned []model.UnassignedStop
	if len(hubStops) > 0 {
		tier1, err := o.solveTier1(ctx, hubStops)
		if err != nil {
			o.state = Tier1Failed
			res.State = o.state
			dep := &DependencyError{Reason: "tier 1 bulk transfer infeasible", Err: err}
			res.Tier1Fail = dep.Error()
			log.Printf("twotier: %v; fallback=%s", dep, o.in.Fallback)
			switch o.in.Fallback {
			case FallbackRerouteDirect:
				directStops = append(directStops, hubStops...)
				hubStops = nil
			default:
				for _, s := range hubStops {
					hubFailureUnassigned = append(hubFailureUnassigned, model.UnassignedStop{
						StopID: s.ID, Cause: model.CauseHubFailure,
					})
				}
				hubStops = nil
			}
		} else {
			o.state = Tier1Done
			res.Tier1 = tier1
		}
	} else {
		o.state = Tier1Done
	}

	o.state = Tier2Running
	var (
		wg    sync.WaitGroup
		sol2a *model.RoutingSolution
		sol2b *model.RoutingSolution
		err2a error
		err2b error
	)
	if len(hubStops) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sol2a, err2a = o.solveTier(ctx, TierHub, o.in.Hub, 1, hubStops, o.in.HubStart)
		}()
	}
	if len(directStops) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sol2b, err2b = o.solveTier(ctx, TierDirect, o.in.Depot, 0, directStops, 0)
		}()
	}
	wg.Wait()
	if err2a != nil {
		o.state = PartialFailure
		res.State = o.state
		return res, err2a
	}
	if err2b != nil {
		o.state = PartialFailure
		res.State = o.state
		return res, err2b
	}
	res.Tier2a = sol2a
	res.Tier2b = sol2b

	merged := o.merge(res.Tier1, sol2a, sol2b, hubFailureUnassigned)
	merged.Strategy = o.in.Cfg.Strategy
	merged.ComputeTime = time.Since(start)
	softTol := o.in.Cfg.SoftWindowTol
	if o.in.Cfg.HardWindows {
		softTol = 0
	}
	if err := ValidateComposite(o.in.Stops, merged, softTol); err != nil {
		o.state = PartialFailure
		res.State = o.state
		return res, err
	}
	res.Solution = *merged

	if res.Tier1Fail != "" {
		o.state = PartialFailure
	} else {
		o.state = Merged
	}
	res.State = o.state
	return res, nil
}

// solveTier1 models the bulk depot→hub transfer: the consolidated hub-zone
// weight split into chunks no larger than the biggest bulk vehicle, each a
// synthetic hard-window stop at the hub, in the fixed early window.
func (o *Orchestrator) solveTier1(ctx context.Context, hubStops []model.Stop) (*model.RoutingSolution, error) {
	total := 0.0
	for _, s := range hubStops {
		total += s.WeightKg
	}
	maxCap := o.in.BulkFleet.MaxCapacityKg()
	if maxCap <= 0 {
		return nil, errors.New("bulk fleet has no capacity")
	}
	if !o.in.BulkFleet.Unlimited {
		fixed := 0.0
		for _, e := range o.in.BulkFleet.Entries {
			n := e.Count
			if n == 0 {
				n = 1
			}
			fixed += e.Class.CapacityKg * float64(n)
		}
		if total > fixed {
			return nil, &solve.StructuralError{
				StopID: "HUB_CONSOLIDATION", WeightKg: total, MaxCapacityKg: fixed,
			}
		}
	}

	chunks := int(math.Ceil(total / maxCap))
	if chunks < 1 {
		chunks = 1
	}
	per := total / float64(chunks)
	stops := make([]model.Stop, chunks)
	indices := make([]int, 0, chunks+1)
	indices = append(indices, 0) // depot anchor
	for i := 0; i < chunks; i++ {
		stops[i] = model.Stop{
			ID:       fmt.Sprintf("HUB_LOAD_%d", i+1),
			Name:     "Hub consolidation",
			Address:  o.in.Hub.Address,
			Location: o.in.Hub.Coord,
			WeightKg: per,
			Window:   model.TimeWindow{Start: o.in.BulkDepart, End: o.in.BulkArrive},
			Priority: true, // fixed transfer window is always hard
			Zone:     "HUB",
		}
		indices = append(indices, 1) // every chunk sits at the hub
	}

	cfg := o.in.Cfg
	cfg.Strategy = o.in.BulkStrategy
	cfg.InstanceTag = TierBulk
	m, err := solve.Build(o.in.Depot, stops, o.in.Travel.Slice(indices), o.in.BulkFleet, cfg)
	if err != nil {
		return nil, err
	}
	sol, met, err := m.Solve(ctx)
	if err != nil {
		return nil, err
	}
	solve.RecordMetrics(o.in.SolveID, TierBulk, met)
	if len(sol.Unassigned) > 0 {
		return nil, fmt.Errorf("%d of %d bulk loads unassigned", len(sol.Unassigned), chunks)
	}
	for i := range sol.Routes {
		sol.Routes[i].Tier = TierBulk
		sol.Routes[i].DepartureMin = o.in.BulkDepart
	}
	return &sol, nil
}

// solveTier runs one last-mile tier. anchorIdx selects the anchor row in
// the full matrix (0 depot, 1 hub); earliestStart floors the departure.
func (o *Orchestrator) solveTier(ctx context.Context, tier string, anchor model.Location, anchorIdx int, stops []model.Stop, earliestStart int) (*model.RoutingSolution, error) {
	indices := make([]int, 0, len(stops)+1)
	indices = append(indices, anchorIdx)
	for _, s := range stops {
		indices = append(indices, o.stopIndex(s.ID))
	}

	cfg := o.in.Cfg
	cfg.InstanceTag = tier
	cfg.EarliestStartMin = earliestStart
	var (
		sol model.RoutingSolution
		met solve.Metrics
		err error
	)
	if o.in.MultiTrip.Enabled {
		sol, met, err = solve.SolveMultiTrip(ctx, anchor, stops, o.in.Travel.Slice(indices), o.in.Fleet, cfg, o.in.MultiTrip)
	} else {
		var m *solve.Model
		if m, err = solve.Build(anchor, stops, o.in.Travel.Slice(indices), o.in.Fleet, cfg); err == nil {
			sol, met, err = m.Solve(ctx)
		}
	}
	if err != nil {
		return nil, err
	}
	solve.RecordMetrics(o.in.SolveID, tier, met)
	for i := range sol.Routes {
		sol.Routes[i].Tier = tier
	}
	return &sol, nil
}

// stopIndex maps a stop ID to its row in the full matrix (anchor rows 0-1,
// stops from 2 in input order).
func (o *Orchestrator) stopIndex(id string) int {
	for i, s := range o.in.Stops {
		if s.ID == id {
			return i + 2
		}
	}
	return -1
}

// merge concatenates tier routes into one composite solution. Tier 1's
// routes are carried as an informational prefix; tier solutions are never
// mutated.
func (o *Orchestrator) merge(tier1, sol2a, sol2b *model.RoutingSolution, extraUnassigned []model.UnassignedStop) *model.RoutingSolution {
	out := &model.RoutingSolution{}
	for _, s := range []*model.RoutingSolution{tier1, sol2a, sol2b} {
		if s == nil {
			continue
		}
		out.Routes = append(out.Routes, s.Routes...)
		out.Unassigned = append(out.Unassigned, s.Unassigned...)
		out.Objective += s.Objective
	}
	out.Unassigned = append(out.Unassigned, extraUnassigned...)
	out.Recompute()
	return out
}
