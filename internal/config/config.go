// Package config loads the solver/hub configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hubroute/internal/model"
	"hubroute/internal/solve"
)

type Location struct {
	Name      string  `yaml:"name"`
	Address   string  `yaml:"address"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

func (l Location) Model() model.Location {
	return model.Location{
		Name:    l.Name,
		Address: l.Address,
		Coord:   model.GeoPoint{Lat: l.Latitude, Lng: l.Longitude},
	}
}

type Vehicle struct {
	Name       string  `yaml:"name"`
	CapacityKg float64 `yaml:"capacity_kg"`
	CostPerKm  float64 `yaml:"cost_per_km"`
	FixedCost  float64 `yaml:"fixed_cost"`
	Count      int     `yaml:"count"`
	Bulk       bool    `yaml:"bulk"` // tier-1 consolidation class
}

type FleetSection struct {
	Vehicles      []Vehicle `yaml:"vehicles"`
	Unlimited     bool      `yaml:"unlimited"`
	ReturnToDepot bool      `yaml:"return_to_depot"`
}

type HubSection struct {
	Enabled     bool     `yaml:"enabled"`
	Location    Location `yaml:"location"`
	ZonesViaHub []string `yaml:"zones_via_hub"`
	BlindVan    struct {
		DepartureTime string `yaml:"departure_time"` // HH:MM
		ArrivalTime   string `yaml:"arrival_time"`
	} `yaml:"blind_van_schedule"`
	Motor struct {
		StartDeliveryAfter string `yaml:"start_delivery_after"`
		OnResupplyFailure  string `yaml:"on_resupply_failure"` // direct | unassigned
	} `yaml:"motor_routing"`
	Source struct {
		Mode            string  `yaml:"mode"` // zone | dynamic | hybrid
		DistanceWeight  float64 `yaml:"distance_weight"`
		TimeWeight      float64 `yaml:"time_weight"`
		MinAdvantagePct float64 `yaml:"min_cost_advantage_percent"`
	} `yaml:"source_assignment"`
}

type SolverSection struct {
	Strategy        string `yaml:"strategy"`
	TimeBudgetSec   int    `yaml:"time_budget_sec"`
	ServiceTimeMin  int    `yaml:"service_time_min"`
	LeadTimeMin     int    `yaml:"lead_time_min"`
	SoftTolMin      int    `yaml:"soft_window_tolerance_min"`
	HardWindows     bool   `yaml:"hard_windows"`
	Seed            int64  `yaml:"seed"`
	StagnationLimit int    `yaml:"stagnation_limit"`
	MultiTrip       struct {
		Enabled        bool `yaml:"enabled"`
		BufferMin      int  `yaml:"buffer_minutes"`
		MaxTrips       int  `yaml:"max_trips_per_vehicle"`
		GapMin         int  `yaml:"gap_threshold_minutes"`
		MinClusterSize int  `yaml:"min_cluster_size"`
	} `yaml:"multi_trip"`
}

type MatrixSection struct {
	Provider    string  `yaml:"provider"` // haversine | ors
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	SpeedKph    float64 `yaml:"speed_kph"`
	ReqPerSec   float64 `yaml:"requests_per_sec"`
	CacheTTLMin int     `yaml:"cache_ttl_min"`
}

// File is the full configuration document.
type File struct {
	Depot  Location      `yaml:"depot"`
	Hub    HubSection    `yaml:"hub"`
	Fleet  FleetSection  `yaml:"fleet"`
	Solver SolverSection `yaml:"solver"`
	Matrix MatrixSection `yaml:"matrix"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Fleet.Vehicles) == 0 {
		return fmt.Errorf("config: fleet.vehicles must not be empty")
	}
	if _, err := model.ParseStrategy(f.Solver.Strategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, t := range []string{f.Hub.BlindVan.DepartureTime, f.Hub.BlindVan.ArrivalTime, f.Hub.Motor.StartDeliveryAfter} {
		if t == "" {
			continue
		}
		if _, err := model.ClockToMinutes(t); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch f.Hub.Motor.OnResupplyFailure {
	case "", "direct", "unassigned":
	default:
		return fmt.Errorf("config: on_resupply_failure must be direct or unassigned, got %q", f.Hub.Motor.OnResupplyFailure)
	}
	switch f.Hub.Source.Mode {
	case "", "zone", "dynamic", "hybrid":
	default:
		return fmt.Errorf("config: source_assignment.mode must be zone, dynamic, or hybrid, got %q", f.Hub.Source.Mode)
	}
	if f.Hub.Enabled && !f.hasBulkVehicle() {
		return fmt.Errorf("config: hub routing enabled but no bulk vehicle class configured")
	}
	return nil
}

func (f *File) hasBulkVehicle() bool {
	for _, v := range f.Fleet.Vehicles {
		if v.Bulk {
			return true
		}
	}
	return false
}

// SolveConfig maps the solver section onto the engine configuration.
func (f *File) SolveConfig() solve.Config {
	strat, _ := model.ParseStrategy(f.Solver.Strategy)
	tol := f.Solver.SoftTolMin
	if tol == 0 {
		tol = 20
	}
	return solve.Config{
		Strategy:        strat,
		TimeBudget:      time.Duration(f.Solver.TimeBudgetSec) * time.Second,
		ServiceTimeMin:  f.Solver.ServiceTimeMin,
		LeadTimeMin:     f.Solver.LeadTimeMin,
		SoftWindowTol:   tol,
		HardWindows:     f.Solver.HardWindows,
		Seed:            f.Solver.Seed,
		StagnationLimit: f.Solver.StagnationLimit,
	}
}

// MultiTrip maps the multi-trip section onto the solver configuration.
func (f *File) MultiTrip() solve.MultiTripConfig {
	mt := f.Solver.MultiTrip
	return solve.MultiTripConfig{
		Enabled:        mt.Enabled,
		BufferMin:      mt.BufferMin,
		MaxTrips:       mt.MaxTrips,
		GapMin:         mt.GapMin,
		MinClusterSize: mt.MinClusterSize,
	}
}

// Fleets splits the configured vehicle classes into the last-mile fleet and
// the tier-1 bulk fleet.
func (f *File) Fleets() (lastMile, bulk model.Fleet) {
	lastMile.Unlimited = f.Fleet.Unlimited
	lastMile.ReturnToAnchor = f.Fleet.ReturnToDepot
	bulk.ReturnToAnchor = f.Fleet.ReturnToDepot
	for _, v := range f.Fleet.Vehicles {
		entry := model.FleetEntry{
			Class: model.VehicleClass{
				Name:       v.Name,
				CapacityKg: v.CapacityKg,
				CostPerKm:  v.CostPerKm,
				FixedCost:  v.FixedCost,
			},
			Count: v.Count,
		}
		if v.Bulk {
			bulk.Entries = append(bulk.Entries, entry)
		} else {
			lastMile.Entries = append(lastMile.Entries, entry)
		}
	}
	return lastMile, bulk
}

// BulkWindow returns the blind-van transfer window in minutes, defaulting
// to 05:30–06:00.
func (f *File) BulkWindow() (depart, arrive int) {
	depart, arrive = 330, 360
	if f.Hub.BlindVan.DepartureTime != "" {
		depart, _ = model.ClockToMinutes(f.Hub.BlindVan.DepartureTime)
	}
	if f.Hub.BlindVan.ArrivalTime != "" {
		arrive, _ = model.ClockToMinutes(f.Hub.BlindVan.ArrivalTime)
	}
	return depart, arrive
}

// MotorStart returns the earliest hub departure for last-mile vehicles,
// defaulting to the blind-van arrival.
func (f *File) MotorStart() int {
	_, arrive := f.BulkWindow()
	if f.Hub.Motor.StartDeliveryAfter == "" {
		return arrive
	}
	start, _ := model.ClockToMinutes(f.Hub.Motor.StartDeliveryAfter)
	if start < arrive {
		return arrive
	}
	return start
}

// CacheTTL returns the matrix cache TTL, defaulting to 24h.
func (f *File) CacheTTL() time.Duration {
	if f.Matrix.CacheTTLMin <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(f.Matrix.CacheTTLMin) * time.Minute
}
