package matrix

import (
	"math"
	"testing"

	"hubroute/internal/model"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Amsterdam -> Utrecht, roughly 35km
	a := model.GeoPoint{Lat: 52.3676, Lng: 4.9041}
	b := model.GeoPoint{Lat: 52.0907, Lng: 5.1214}
	d := HaversineKm(a, b)
	if d < 30 || d > 40 {
		t.Fatalf("HaversineKm = %v, want ~35", d)
	}
	if HaversineKm(a, a) != 0 {
		t.Fatal("distance to self must be zero")
	}
}

func TestBuildHaversine(t *testing.T) {
	points := []model.GeoPoint{
		{Lat: 52.0, Lng: 5.0},
		{Lat: 52.1, Lng: 5.0},
		{Lat: 52.0, Lng: 5.2},
	}
	m := BuildHaversine(points, 30)
	if err := m.Validate(); err != nil {
		t.Fatalf("built matrix invalid: %v", err)
	}
	if m.Size() != 3 {
		t.Fatalf("size = %d", m.Size())
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(m.DistanceKm[i][j]-m.DistanceKm[j][i]) > 1e-9 {
				t.Fatalf("asymmetric at (%d,%d)", i, j)
			}
			wantMin := m.DistanceKm[i][j] / 30 * 60
			if math.Abs(m.DurationMin[i][j]-wantMin) > 1e-6 {
				t.Fatalf("duration mismatch at (%d,%d): %v vs %v", i, j, m.DurationMin[i][j], wantMin)
			}
		}
	}
}

func TestValidateRejectsRagged(t *testing.T) {
	m := Matrix{
		DistanceKm:  [][]float64{{0, 1}, {1}},
		DurationMin: [][]float64{{0, 1}, {1, 0}},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("ragged matrix accepted")
	}
	m = Matrix{
		DistanceKm:  [][]float64{{0, -1}, {1, 0}},
		DurationMin: [][]float64{{0, 1}, {1, 0}},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("negative entry accepted")
	}
}

func TestSlice(t *testing.T) {
	m := Matrix{
		DistanceKm: [][]float64{
			{0, 1, 2},
			{1, 0, 3},
			{2, 3, 0},
		},
		DurationMin: [][]float64{
			{0, 10, 20},
			{10, 0, 30},
			{20, 30, 0},
		},
	}
	sub := m.Slice([]int{0, 2})
	if sub.Size() != 2 {
		t.Fatalf("size = %d", sub.Size())
	}
	if sub.DistanceKm[0][1] != 2 || sub.DurationMin[1][0] != 20 {
		t.Fatalf("slice wrong: %+v", sub)
	}

	// repeated indices back a consolidation run with several visits at one node
	rep := m.Slice([]int{0, 1, 1})
	if rep.Size() != 3 {
		t.Fatalf("repeated size = %d", rep.Size())
	}
	if rep.DistanceKm[1][2] != 0 || rep.DurationMin[2][1] != 0 {
		t.Fatalf("repeated node should be zero distance from itself: %+v", rep)
	}
}
