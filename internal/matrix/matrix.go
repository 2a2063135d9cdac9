// Package matrix holds travel distance/duration matrices and their providers.
package matrix

import (
	"fmt"
	"math"

	"hubroute/internal/model"
)

// Matrix pairs a distance matrix (km) with a duration matrix (minutes).
// Index 0 is reserved for the tier anchor. Read-only once built.
type Matrix struct {
	DistanceKm  [][]float64 `json:"distanceKm"`
	DurationMin [][]float64 `json:"durationMin"`
}

func (m Matrix) Size() int { return len(m.DistanceKm) }

func (m Matrix) Validate() error {
	n := len(m.DistanceKm)
	if len(m.DurationMin) != n {
		return fmt.Errorf("matrix: distance has %d rows, duration has %d", n, len(m.DurationMin))
	}
	for i := 0; i < n; i++ {
		if len(m.DistanceKm[i]) != n || len(m.DurationMin[i]) != n {
			return fmt.Errorf("matrix: row %d is not square", i)
		}
		for j := 0; j < n; j++ {
			if m.DistanceKm[i][j] < 0 || m.DurationMin[i][j] < 0 {
				return fmt.Errorf("matrix: negative entry at (%d,%d)", i, j)
			}
		}
	}
	return nil
}

// Slice extracts the sub-matrix over the given original indices, in order.
// The caller puts the tier anchor first so index 0 stays the anchor.
func (m Matrix) Slice(indices []int) Matrix {
	n := len(indices)
	out := Matrix{
		DistanceKm:  make([][]float64, n),
		DurationMin: make([][]float64, n),
	}
	for i, a := range indices {
		out.DistanceKm[i] = make([]float64, n)
		out.DurationMin[i] = make([]float64, n)
		for j, b := range indices {
			out.DistanceKm[i][j] = m.DistanceKm[a][b]
			out.DurationMin[i][j] = m.DurationMin[a][b]
		}
	}
	return out
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b model.GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BuildHaversine synthesizes a matrix from straight-line distances at a
// flat travel speed. Offline fallback when no provider is configured.
func BuildHaversine(points []model.GeoPoint, speedKph float64) Matrix {
	if speedKph <= 0 {
		speedKph = 30
	}
	n := len(points)
	m := Matrix{
		DistanceKm:  make([][]float64, n),
		DurationMin: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.DistanceKm[i] = make([]float64, n)
		m.DurationMin[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := HaversineKm(points[i], points[j])
			m.DistanceKm[i][j] = d
			m.DurationMin[i][j] = d / speedKph * 60
		}
	}
	return m
}
