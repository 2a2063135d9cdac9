// Package solve builds dimensioned routing models and searches them.
package solve

import (
	"fmt"
	"time"

	"hubroute/internal/matrix"
	"hubroute/internal/model"
)

// Config is the immutable solver configuration threaded through one tier solve.
type Config struct {
	Strategy        model.Strategy
	TimeBudget      time.Duration // wall clock per tier
	ServiceTimeMin  int           // per-stop service duration
	LeadTimeMin     int           // anchor departure lead before earliest window
	SoftWindowTol   int           // widening for non-priority windows, minutes
	HardWindows     bool          // treat every window as hard regardless of priority
	Seed            int64
	StagnationLimit int // iterations without improvement before stopping early

	// InstanceTag namespaces vehicle instance IDs so tiers solved from the
	// same fleet definition never share an instance identity.
	InstanceTag string
	// EarliestStartMin floors the anchor departure; used by hub-anchored
	// tiers that cannot leave before the resupply arrives.
	EarliestStartMin int
}

func (c Config) withDefaults() Config {
	if c.TimeBudget <= 0 {
		c.TimeBudget = 300 * time.Second
	}
	if c.ServiceTimeMin <= 0 {
		c.ServiceTimeMin = 15
	}
	if c.LeadTimeMin <= 0 {
		c.LeadTimeMin = 30
	}
	if c.SoftWindowTol < 0 {
		c.SoftWindowTol = 0
	}
	if c.StagnationLimit <= 0 {
		c.StagnationLimit = 2000
	}
	return c
}

// StructuralError marks infeasibility detected before search: a stop no
// vehicle class can carry, even after fleet scaling.
type StructuralError struct {
	StopID        string
	WeightKg      float64
	MaxCapacityKg float64
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("stop %s weighs %.1fkg, exceeds every vehicle class (max %.1fkg)",
		e.StopID, e.WeightKg, e.MaxCapacityKg)
}

// VehicleInstance is one concrete vehicle slot. Instances are owned by the
// model's arena and never shared across tiers.
type VehicleInstance struct {
	ID      string // "<class>_<ordinal>"
	Class   model.VehicleClass
	Ordinal int
	Cloned  bool // synthesized by auto-scaling rather than the fixed count
}

// fleetArena materializes vehicle instances from a fleet and grows on demand
// when the fleet is unlimited. It is the single owner of instance identity.
type fleetArena struct {
	fleet     model.Fleet
	tag       string
	instances []VehicleInstance
	next      int
}

func (a *fleetArena) instanceID(class string, ordinal int) string {
	if a.tag == "" {
		return fmt.Sprintf("%s_%d", class, ordinal)
	}
	return fmt.Sprintf("%s/%s_%d", a.tag, class, ordinal)
}

func newFleetArena(f model.Fleet, tag string) *fleetArena {
	a := &fleetArena{fleet: f, tag: tag}
	for _, e := range f.Entries {
		n := e.Count
		if n == 0 && !f.Unlimited {
			n = 1
		}
		for i := 0; i < n; i++ {
			a.instances = append(a.instances, VehicleInstance{
				ID:      a.instanceID(e.Class.Name, a.next),
				Class:   e.Class,
				Ordinal: a.next,
			})
			a.next++
		}
	}
	return a
}

// grow synthesizes one instance of the cheapest class able to carry weightKg.
// Only permitted for unlimited fleets; returns false otherwise.
func (a *fleetArena) grow(weightKg float64) (VehicleInstance, bool) {
	if !a.fleet.Unlimited {
		return VehicleInstance{}, false
	}
	best := -1
	for i, e := range a.fleet.Entries {
		if e.Class.CapacityKg < weightKg {
			continue
		}
		if best < 0 || e.Class.CostPerKm < a.fleet.Entries[best].Class.CostPerKm {
			best = i
		}
	}
	if best < 0 {
		return VehicleInstance{}, false
	}
	inst := VehicleInstance{
		ID:      a.instanceID(a.fleet.Entries[best].Class.Name, a.next),
		Class:   a.fleet.Entries[best].Class,
		Ordinal: a.next,
		Cloned:  true,
	}
	a.next++
	a.instances = append(a.instances, inst)
	return inst, true
}

// stopBound is the time dimension bound attached to one stop.
type stopBound struct {
	hard     bool
	enforced model.TimeWindow // range the search never violates
	base     model.TimeWindow // original window; deviation outside it is penalized
}

// Model is a built constraint model for one tier: stops, travel matrix,
// vehicle arena, and per-stop time bounds. Matrix index 0 is the anchor;
// stop i maps to matrix index i+1.
type Model struct {
	Anchor model.Location
	Stops  []model.Stop
	Travel matrix.Matrix
	Cfg    Config

	arena    *fleetArena
	bounds   []stopBound
	startMin int // fixed earliest departure from the anchor
}

// Build validates inputs and constructs the capacity and time dimensions.
// It fails fast with *StructuralError when any stop exceeds every class
// capacity, before search ever runs.
func Build(anchor model.Location, stops []model.Stop, travel matrix.Matrix, fleet model.Fleet, cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	if err := travel.Validate(); err != nil {
		return nil, err
	}
	if travel.Size() != len(stops)+1 {
		return nil, fmt.Errorf("matrix has %d locations, want %d (anchor + %d stops)",
			travel.Size(), len(stops)+1, len(stops))
	}

	maxCap := fleet.MaxCapacityKg()
	bounds := make([]stopBound, len(stops))
	startMin := 24 * 60
	for i, s := range stops {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.WeightKg > maxCap {
			return nil, &StructuralError{StopID: s.ID, WeightKg: s.WeightKg, MaxCapacityKg: maxCap}
		}
		b := stopBound{base: s.Window}
		if s.Priority || cfg.HardWindows {
			b.hard = true
			b.enforced = s.Window
		} else {
			b.enforced = s.Window.Widen(cfg.SoftWindowTol)
		}
		bounds[i] = b
		if rt := s.ReadyTime(cfg.LeadTimeMin); rt < startMin {
			startMin = rt
		}
	}
	if len(stops) == 0 {
		startMin = 0
	}
	if cfg.EarliestStartMin > startMin {
		startMin = cfg.EarliestStartMin
	}

	return &Model{
		Anchor:   anchor,
		Stops:    stops,
		Travel:   travel,
		Cfg:      cfg,
		arena:    newFleetArena(fleet, cfg.InstanceTag),
		bounds:   bounds,
		startMin: startMin,
	}, nil
}

// StartMin is the anchor departure time derived from the earliest window.
func (m *Model) StartMin() int { return m.startMin }

// Instances exposes the current vehicle arena contents.
func (m *Model) Instances() []VehicleInstance { return m.arena.instances }

// schedule propagates the time and capacity dimensions along one visit order.
// It returns per-visit arrivals, total distance, total soft deviation, and
// whether every hard bound holds. order contains stop indices (0-based).
type scheduleOut struct {
	arrivals   []int
	distKm     float64
	deviation  int // minutes outside base windows on soft stops
	loadKg     float64
	returnToGo float64 // distance of final leg back to anchor, if required
}

func (m *Model) schedule(order []int, inst VehicleInstance) (scheduleOut, bool) {
	out := scheduleOut{arrivals: make([]int, len(order))}
	t := m.startMin
	prev := 0 // matrix index of anchor
	for vi, si := range order {
		node := si + 1
		out.loadKg += m.Stops[si].WeightKg
		if out.loadKg > inst.Class.CapacityKg {
			return out, false
		}
		t += int(m.Travel.DurationMin[prev][node])
		b := m.bounds[si]
		if t < b.enforced.Start {
			t = b.enforced.Start // wait at the stop until the window opens
		}
		if t > b.enforced.End {
			return out, false
		}
		if !b.hard {
			if t < b.base.Start {
				out.deviation += b.base.Start - t
			} else if t > b.base.End {
				out.deviation += t - b.base.End
			}
		}
		out.arrivals[vi] = t
		t += m.Cfg.ServiceTimeMin
		out.distKm += m.Travel.DistanceKm[prev][node]
		prev = node
	}
	if len(order) > 0 && m.arena.fleet.ReturnToAnchor {
		out.returnToGo = m.Travel.DistanceKm[prev][0]
		out.distKm += out.returnToGo
	}
	return out, true
}

// fits reports whether stop si could be inserted into order at pos without
// breaking a hard bound, and the schedule after insertion.
func (m *Model) fits(order []int, inst VehicleInstance, si, pos int) ([]int, scheduleOut, bool) {
	if pos < 0 || pos > len(order) {
		return nil, scheduleOut{}, false
	}
	cand := make([]int, 0, len(order)+1)
	cand = append(cand, order[:pos]...)
	cand = append(cand, si)
	cand = append(cand, order[pos:]...)
	sched, ok := m.schedule(cand, inst)
	return cand, sched, ok
}

// standaloneFeasible checks whether a stop can be served alone by the given
// instance: the capacity leg and the time leg separately. Used for cause
// tagging of unassigned stops.
func (m *Model) standaloneFeasible(si int, inst VehicleInstance) (capacityOK, timeOK bool) {
	capacityOK = m.Stops[si].WeightKg <= inst.Class.CapacityKg
	t := m.startMin + int(m.Travel.DurationMin[0][si+1])
	b := m.bounds[si]
	if t < b.enforced.Start {
		t = b.enforced.Start
	}
	timeOK = t <= b.enforced.End
	return capacityOK, timeOK
}
