// Package zone classifies stops for two-tier hub routing.
package zone

import (
	"sort"
	"strings"

	"hubroute/internal/model"
)

// Tag is the routing class of a stop.
type Tag string

const (
	TagHub    Tag = "hub"
	TagDirect Tag = "direct"
)

// Classifier maps administrative zone labels to hub-eligible or direct.
// Matching is case-insensitive. Zones not in the configured set classify
// as direct: unknown zones fail open to the plain depot route.
type Classifier struct {
	hubZones map[string]struct{}
}

func NewClassifier(hubZones []string) *Classifier {
	m := make(map[string]struct{}, len(hubZones))
	for _, z := range hubZones {
		z = strings.ToUpper(strings.TrimSpace(z))
		if z != "" {
			m[z] = struct{}{}
		}
	}
	return &Classifier{hubZones: m}
}

// Classify tags a single zone label. Pure function of (label, configuration).
func (c *Classifier) Classify(zoneLabel string) Tag {
	if zoneLabel == "" {
		return TagDirect
	}
	if _, ok := c.hubZones[strings.ToUpper(strings.TrimSpace(zoneLabel))]; ok {
		return TagHub
	}
	return TagDirect
}

// Split partitions stops into hub-eligible and direct, preserving input order.
func (c *Classifier) Split(stops []model.Stop) (hub, direct []model.Stop) {
	for _, s := range stops {
		if c.Classify(s.Zone) == TagHub {
			hub = append(hub, s)
		} else {
			direct = append(direct, s)
		}
	}
	return hub, direct
}

// Summary reports the classification breakdown for a stop set.
type Summary struct {
	TotalStops     int      `json:"totalStops"`
	HubStops       int      `json:"hubStops"`
	DirectStops    int      `json:"directStops"`
	HubWeightKg    float64  `json:"hubWeightKg"`
	DirectWeightKg float64  `json:"directWeightKg"`
	HubShare       float64  `json:"hubShare"`
	HubZones       []string `json:"hubZones"`
}

func (c *Classifier) Summarize(stops []model.Stop) Summary {
	sum := Summary{TotalStops: len(stops), HubZones: c.Zones()}
	for _, s := range stops {
		if c.Classify(s.Zone) == TagHub {
			sum.HubStops++
			sum.HubWeightKg += s.WeightKg
		} else {
			sum.DirectStops++
			sum.DirectWeightKg += s.WeightKg
		}
	}
	if sum.TotalStops > 0 {
		sum.HubShare = float64(sum.HubStops) / float64(sum.TotalStops)
	}
	return sum
}

// Zones returns the configured hub zones, normalized, in sorted order.
func (c *Classifier) Zones() []string {
	out := make([]string, 0, len(c.hubZones))
	for z := range c.hubZones {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}
