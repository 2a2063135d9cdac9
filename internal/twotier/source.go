package twotier

import (
	"hubroute/internal/model"
	"hubroute/internal/zone"
)

// SourceMode selects how stops are assigned to a serving source.
type SourceMode string

const (
	// SourceZone assigns by configured hub zones only.
	SourceZone SourceMode = "zone"
	// SourceDynamic assigns every stop to the cheaper source by travel cost.
	SourceDynamic SourceMode = "dynamic"
	// SourceHybrid starts from the zone assignment and switches a stop only
	// when the other source has a clear cost advantage.
	SourceHybrid SourceMode = "hybrid"
)

// SourceConfig tunes dynamic source assignment. Costs are weighted sums of
// the direct leg from the source to the stop.
type SourceConfig struct {
	Mode            SourceMode
	DistanceWeight  float64 // per km
	TimeWeight      float64 // per minute
	MinAdvantagePct float64 // hybrid: minimum advantage to leave the zone choice
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.Mode == "" {
		c.Mode = SourceZone
	}
	if c.DistanceWeight <= 0 {
		c.DistanceWeight = 1
	}
	if c.TimeWeight < 0 {
		c.TimeWeight = 0
	}
	if c.MinAdvantagePct <= 0 {
		c.MinAdvantagePct = 10
	}
	return c
}

// sourceCost is the weighted cost of serving one stop from one anchor row
// of the full matrix (0 depot, 1 hub).
func (o *Orchestrator) sourceCost(anchorIdx, stopIdx int, c SourceConfig) float64 {
	node := stopIdx + 2
	return c.DistanceWeight*o.in.Travel.DistanceKm[anchorIdx][node] +
		c.TimeWeight*o.in.Travel.DurationMin[anchorIdx][node]
}

// splitStops partitions the input stops into hub-served and depot-served
// populations according to the configured source mode.
func (o *Orchestrator) splitStops() (hubStops, directStops []model.Stop) {
	c := o.in.Source.withDefaults()
	if c.Mode == SourceZone {
		return o.cls.Split(o.in.Stops)
	}
	for i, s := range o.in.Stops {
		depotCost := o.sourceCost(0, i, c)
		hubCost := o.sourceCost(1, i, c)
		viaHub := hubCost < depotCost
		if c.Mode == SourceHybrid {
			// keep the zone choice unless the advantage clears the threshold
			zoneHub := o.cls.Classify(s.Zone) == zone.TagHub
			zoneCost, bestCost := depotCost, hubCost
			if zoneHub {
				zoneCost, bestCost = hubCost, depotCost
			}
			viaHub = zoneHub
			if zoneCost > 0 && (zoneCost-bestCost)/zoneCost*100 >= c.MinAdvantagePct {
				viaHub = !zoneHub
			}
		}
		if viaHub {
			hubStops = append(hubStops, s)
		} else {
			directStops = append(directStops, s)
		}
	}
	return hubStops, directStops
}
