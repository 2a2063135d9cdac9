package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"hubroute/internal/model"
)

// Provider resolves a full travel matrix for an ordered point list.
// Implementations must keep the input ordering: row/column i corresponds
// to points[i].
type Provider interface {
	FetchMatrix(ctx context.Context, points []model.GeoPoint) (Matrix, error)
}

// HaversineProvider satisfies Provider with straight-line estimates.
type HaversineProvider struct {
	SpeedKph float64
}

func (p HaversineProvider) FetchMatrix(_ context.Context, points []model.GeoPoint) (Matrix, error) {
	return BuildHaversine(points, p.SpeedKph), nil
}

// HTTPProvider queries an OpenRouteService-compatible matrix endpoint.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Profile string

	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider builds a provider limited to reqPerSec upstream calls.
func NewHTTPProvider(baseURL, apiKey string, reqPerSec float64) *HTTPProvider {
	if reqPerSec <= 0 {
		reqPerSec = 2
	}
	return &HTTPProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Profile: "driving-car",
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), 1),
	}
}

type matrixRequest struct {
	Locations [][]float64 `json:"locations"`
	Metrics   []string    `json:"metrics"`
	Units     string      `json:"units"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (p *HTTPProvider) FetchMatrix(ctx context.Context, points []model.GeoPoint) (Matrix, error) {
	locs := make([][]float64, len(points))
	for i, pt := range points {
		locs[i] = []float64{pt.Lng, pt.Lat} // ORS order is lng,lat
	}
	payload, err := json.Marshal(matrixRequest{Locations: locs, Metrics: []string{"distance", "duration"}, Units: "km"})
	if err != nil {
		return Matrix{}, fmt.Errorf("marshal matrix request: %w", err)
	}

	var resp *http.Response
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", p.BaseURL, p.Profile)
	for attempt := 0; attempt < 3; attempt++ {
		if err = p.limiter.Wait(ctx); err != nil {
			return Matrix{}, err
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if rerr != nil {
			return Matrix{}, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		if p.APIKey != "" {
			req.Header.Set("Authorization", p.APIKey)
		}
		resp, err = p.client.Do(req)
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		if resp != nil {
			resp.Body.Close()
		}
		select {
		case <-ctx.Done():
			return Matrix{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		return Matrix{}, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Matrix{}, fmt.Errorf("matrix endpoint returned %d", resp.StatusCode)
	}

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Matrix{}, fmt.Errorf("decode matrix response: %w", err)
	}
	n := len(points)
	if len(mr.Distances) != n || len(mr.Durations) != n {
		return Matrix{}, fmt.Errorf("matrix response has %d/%d rows, want %d", len(mr.Distances), len(mr.Durations), n)
	}
	out := Matrix{DistanceKm: make([][]float64, n), DurationMin: make([][]float64, n)}
	for i := 0; i < n; i++ {
		if len(mr.Distances[i]) != n || len(mr.Durations[i]) != n {
			return Matrix{}, fmt.Errorf("matrix response row %d is not square", i)
		}
		out.DistanceKm[i] = make([]float64, n)
		out.DurationMin[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if mr.Distances[i][j] == nil || mr.Durations[i][j] == nil {
				return Matrix{}, fmt.Errorf("matrix response has unreachable pair (%d,%d)", i, j)
			}
			out.DistanceKm[i][j] = *mr.Distances[i][j]
			out.DurationMin[i][j] = *mr.Durations[i][j] / 60 // ORS durations are seconds
		}
	}
	return out, nil
}
