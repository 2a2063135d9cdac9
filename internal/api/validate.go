package api

import (
	"fmt"

	"hubroute/internal/model"
)

// StopIn is one delivery stop as submitted over the API. Windows are
// HH:MM clock strings; weights are kilograms.
type StopIn struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Address  string  `json:"address,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	WeightKg float64 `json:"weightKg"`
	Window   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"window"`
	Priority bool   `json:"priority,omitempty"`
	Zone     string `json:"zone,omitempty"`
}

// MatrixIn is an optional precomputed travel matrix over
// [depot, hub, stops...] in request order.
type MatrixIn struct {
	DistanceKm  [][]float64 `json:"distanceKm"`
	DurationMin [][]float64 `json:"durationMin"`
}

type SolveRequest struct {
	Stops         []StopIn  `json:"stops"`
	Strategy      string    `json:"strategy,omitempty"`
	TimeBudgetSec int       `json:"timeBudgetSec,omitempty"`
	Seed          int64     `json:"seed,omitempty"`
	Matrix        *MatrixIn `json:"matrix,omitempty"`
}

func validateSolveRequest(req *SolveRequest) error {
	if len(req.Stops) == 0 {
		return fmt.Errorf("stops must not be empty")
	}
	if req.Strategy != "" {
		if _, err := model.ParseStrategy(req.Strategy); err != nil {
			return err
		}
	}
	if req.TimeBudgetSec < 0 {
		return fmt.Errorf("timeBudgetSec must be >= 0")
	}
	seen := map[string]bool{}
	for i, st := range req.Stops {
		if st.ID == "" {
			return fmt.Errorf("stops[%d]: missing id", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("stops[%d]: duplicate id %s", i, st.ID)
		}
		seen[st.ID] = true
		if st.WeightKg <= 0 {
			return fmt.Errorf("stop %s: weightKg must be positive", st.ID)
		}
		if st.Window.Start == "" || st.Window.End == "" {
			return fmt.Errorf("stop %s: window start and end required", st.ID)
		}
	}
	if req.Matrix != nil {
		want := len(req.Stops) + 2
		if len(req.Matrix.DistanceKm) != want || len(req.Matrix.DurationMin) != want {
			return fmt.Errorf("matrix must cover depot, hub, and %d stops (%d rows)", len(req.Stops), want)
		}
	}
	return nil
}

// toStops converts request stops into model stops, parsing clock windows.
func toStops(in []StopIn) ([]model.Stop, error) {
	out := make([]model.Stop, 0, len(in))
	for _, st := range in {
		start, err := model.ClockToMinutes(st.Window.Start)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", st.ID, err)
		}
		end, err := model.ClockToMinutes(st.Window.End)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", st.ID, err)
		}
		out = append(out, model.Stop{
			ID:       st.ID,
			Name:     st.Name,
			Address:  st.Address,
			Location: model.GeoPoint{Lat: st.Lat, Lng: st.Lng},
			WeightKg: st.WeightKg,
			Window:   model.TimeWindow{Start: start, End: end},
			Priority: st.Priority,
			Zone:     st.Zone,
		})
	}
	return out, nil
}
