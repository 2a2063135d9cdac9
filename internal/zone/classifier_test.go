package zone

import (
	"testing"

	"hubroute/internal/model"
)

func stop(id, z string, kg float64) model.Stop {
	return model.Stop{
		ID:       id,
		Zone:     z,
		WeightKg: kg,
		Location: model.GeoPoint{Lat: 52, Lng: 5},
		Window:   model.TimeWindow{Start: 600, End: 660},
	}
}

func TestClassify(t *testing.T) {
	c := NewClassifier([]string{"north", "EAST"})
	cases := []struct {
		zone string
		want Tag
	}{
		{"north", TagHub},
		{"NORTH", TagHub},
		{"east", TagHub},
		{"south", TagDirect},
		{"", TagDirect},
		{"  unknown  ", TagDirect},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.zone); got != tc.want {
			t.Fatalf("Classify(zone=%q) = %s, want %s", tc.zone, got, tc.want)
		}
	}
}

func TestSplitAndSummarize(t *testing.T) {
	c := NewClassifier([]string{"north"})
	stops := []model.Stop{
		stop("A", "north", 10),
		stop("B", "south", 20),
		stop("C", "north", 30),
		stop("D", "", 40),
	}
	hub, direct := c.Split(stops)
	if len(hub) != 2 || len(direct) != 2 {
		t.Fatalf("split = %d hub, %d direct", len(hub), len(direct))
	}
	if hub[0].ID != "A" || hub[1].ID != "C" {
		t.Fatalf("hub order not preserved: %v, %v", hub[0].ID, hub[1].ID)
	}

	sum := c.Summarize(stops)
	if sum.TotalStops != 4 || sum.HubStops != 2 || sum.DirectStops != 2 {
		t.Fatalf("summary counts = %+v", sum)
	}
	if sum.HubWeightKg != 40 || sum.DirectWeightKg != 60 {
		t.Fatalf("summary weights = %+v", sum)
	}
	if sum.HubShare != 0.5 {
		t.Fatalf("hub share = %v", sum.HubShare)
	}
}

func TestZonesSorted(t *testing.T) {
	c := NewClassifier([]string{"west", "east", "north"})
	z := c.Zones()
	if len(z) != 3 || z[0] != "EAST" || z[1] != "NORTH" || z[2] != "WEST" {
		t.Fatalf("zones = %v", z)
	}
}

func TestEmptyClassifierRoutesEverythingDirect(t *testing.T) {
	c := NewClassifier(nil)
	hub, direct := c.Split([]model.Stop{stop("A", "north", 1)})
	if len(hub) != 0 || len(direct) != 1 {
		t.Fatalf("split = %d hub, %d direct", len(hub), len(direct))
	}
}
