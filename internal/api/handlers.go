package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"hubroute/internal/buildinfo"
	"hubroute/internal/matrix"
	"hubroute/internal/metrics"
	"hubroute/internal/model"
	"hubroute/internal/notify"
	"hubroute/internal/solve"
	"hubroute/internal/store"
	"hubroute/internal/twotier"
	"hubroute/internal/zone"
)

// SolveHandler handles POST /v1/solve. The solve runs in the background;
// pass ?wait=true to block until it finishes.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !(p.IsAdmin() || p.Role == "dispatcher") {
		writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	stops, err := toStops(req.Stops)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid stop window", err.Error(), r.URL.Path)
		return
	}

	cfg := s.Cfg.SolveConfig()
	if req.Strategy != "" {
		cfg.Strategy, _ = model.ParseStrategy(req.Strategy)
	}
	if req.TimeBudgetSec > 0 {
		cfg.TimeBudget = time.Duration(req.TimeBudgetSec) * time.Second
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	travel, err := s.travelMatrix(r.Context(), stops, req.Matrix)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Matrix unavailable", err.Error(), r.URL.Path)
		return
	}

	lastMile, bulk := s.Cfg.Fleets()
	depart, arrive := s.Cfg.BulkWindow()
	id := uuid.NewString()
	in := twotier.Input{
		SolveID:    id,
		Stops:      stops,
		Fleet:      lastMile,
		BulkFleet:  bulk,
		Depot:      s.Cfg.Depot.Model(),
		Hub:        s.Cfg.Hub.Location.Model(),
		Travel:     travel,
		Cfg:        cfg,
		HubZones:   s.Cfg.Hub.ZonesViaHub,
		BulkDepart: depart,
		BulkArrive: arrive,
		HubStart:   s.Cfg.MotorStart(),
		Fallback:   twotier.HubFallback(s.Cfg.Hub.Motor.OnResupplyFailure),
		HubEnabled: s.Cfg.Hub.Enabled,
		Source: twotier.SourceConfig{
			Mode:            twotier.SourceMode(s.Cfg.Hub.Source.Mode),
			DistanceWeight:  s.Cfg.Hub.Source.DistanceWeight,
			TimeWeight:      s.Cfg.Hub.Source.TimeWeight,
			MinAdvantagePct: s.Cfg.Hub.Source.MinAdvantagePct,
		},
		MultiTrip: s.Cfg.MultiTrip(),
	}

	rec := store.SolveRecord{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Strategy:  cfg.Strategy.String(),
		Status:    store.StatusRunning,
		StopCount: len(stops),
	}
	if err := s.Store.CreateSolve(r.Context(), rec); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create solve failed", err.Error(), r.URL.Path)
		return
	}

	if v := r.URL.Query().Get("wait"); strings.EqualFold(v, "true") || v == "1" {
		res, runErr := s.runSolve(in, cfg)
		if runErr != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Solve failed", runErr.Error(), "/v1/solutions/"+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"solveId": id, "result": res})
		return
	}
	go func() { _, _ = s.runSolve(in, cfg) }()
	writeJSON(w, http.StatusAccepted, map[string]any{"solveId": id, "status": store.StatusRunning})
}

// travelMatrix uses the caller's matrix when given, otherwise fetches one
// over [depot, hub, stops...] from the configured provider.
func (s *Server) travelMatrix(ctx context.Context, stops []model.Stop, in *MatrixIn) (matrix.Matrix, error) {
	if in != nil {
		m := matrix.Matrix{DistanceKm: in.DistanceKm, DurationMin: in.DurationMin}
		return m, m.Validate()
	}
	points := make([]model.GeoPoint, 0, len(stops)+2)
	points = append(points, s.Cfg.Depot.Model().Coord)
	hub := s.Cfg.Hub.Location.Model().Coord
	if !s.Cfg.Hub.Enabled {
		hub = points[0]
	}
	points = append(points, hub)
	for _, st := range stops {
		points = append(points, st.Location)
	}
	return s.Matrix.FetchMatrix(ctx, points)
}

// runSolve executes the two-tier solve, persists the outcome, and emits
// progress and webhook events. Runs detached from the request context.
func (s *Server) runSolve(in twotier.Input, cfg solve.Config) (*twotier.Result, error) {
	budget := cfg.TimeBudget
	if budget <= 0 {
		budget = 300 * time.Second
	}
	// tier 1 and tier 2 each get the budget; leave slack for merge
	ctx, cancel := context.WithTimeout(context.Background(), 3*budget+30*time.Second)
	defer cancel()

	start := time.Now()
	strategy := cfg.Strategy.String()
	s.Broker.Publish(in.SolveID, SolveEvent{Type: "solve.started", Data: map[string]any{
		"solveId": in.SolveID, "strategy": strategy, "stops": len(in.Stops),
	}})

	fail := func(err error) (*twotier.Result, error) {
		status := store.StatusFailed
		var dep *twotier.DependencyError
		if errors.As(err, &dep) {
			status = store.StatusTierFail
		}
		_ = s.Store.FinishSolve(ctx, in.SolveID, status, err.Error(), nil)
		s.Broker.Publish(in.SolveID, SolveEvent{Type: "solve.failed", Data: map[string]any{
			"solveId": in.SolveID, "error": err.Error(),
		}})
		s.Notify.Emit(notify.EventSolveFailed, map[string]any{"solveId": in.SolveID, "error": err.Error()})
		metrics.Solves.WithLabelValues(strategy, "failed").Inc()
		return nil, err
	}

	orch, err := twotier.New(in)
	if err != nil {
		return fail(err)
	}
	res, err := orch.Run(ctx)
	if err != nil {
		return fail(err)
	}

	status := store.StatusDone
	if res.Tier1Fail != "" {
		status = store.StatusTierFail
	}
	if err := s.Store.FinishSolve(ctx, in.SolveID, status, res.Tier1Fail, &res); err != nil {
		return fail(fmt.Errorf("persist solve: %w", err))
	}
	persisted := true
	for tier, m := range solve.GetMetrics(in.SolveID) {
		if err := s.Store.SaveSearchMetrics(ctx, in.SolveID, tier, m); err != nil {
			persisted = false
		}
	}
	if persisted {
		solve.ClearMetrics(in.SolveID)
	}

	metrics.Solves.WithLabelValues(strategy, res.State.String()).Inc()
	metrics.SolveDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	for _, u := range res.Solution.Unassigned {
		metrics.UnassignedStops.WithLabelValues(string(u.Cause)).Inc()
	}

	agg := twotier.Aggregate(&res.Solution)
	evtData := map[string]any{
		"solveId": in.SolveID, "state": res.State.String(),
		"vehiclesUsed": agg.VehiclesUsed, "stopsServed": agg.StopsServed,
		"stopsUnassigned": agg.StopsUnassigned, "totalCost": agg.TotalCost,
	}
	s.Broker.Publish(in.SolveID, SolveEvent{Type: "solve.completed", Data: evtData})
	if agg.StopsUnassigned > 0 {
		s.Notify.Emit(notify.EventSolutionInfeasible, evtData)
	} else {
		s.Notify.Emit(notify.EventSolutionCompleted, evtData)
	}
	return &res, nil
}

// SolutionsHandler handles GET /v1/solutions
func (s *Server) SolutionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSolves(r.Context(), cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List solves failed", err.Error(), r.URL.Path)
		return
	}
	// listing omits full results
	for i := range items {
		items[i].Result = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// SolutionByIDHandler handles GET /v1/solutions/{id}, /v1/solutions/{id}/summary,
// and the SSE stream /v1/solutions/{id}/events/stream.
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/solutions/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamEvents(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.Store.GetSolve(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Solve not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get solve failed", err.Error(), r.URL.Path)
		return
	}
	if len(parts) > 1 && parts[1] == "summary" {
		s.writeSummary(w, r, rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request, rec store.SolveRecord) {
	if rec.Result == nil {
		writeProblem(w, http.StatusConflict, "Solve not finished", rec.Status, r.URL.Path)
		return
	}
	res := rec.Result
	tiers := map[string]int{}
	for _, rt := range res.Solution.Routes {
		tiers[rt.Tier]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"solveId":    rec.ID,
		"state":      res.State.String(),
		"strategy":   rec.Strategy,
		"zones":      res.Summary,
		"totals":     twotier.Aggregate(&res.Solution),
		"tierRoutes": tiers,
	})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"solveId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	notifyDone := r.Context().Done()
	for {
		select {
		case <-notifyDone:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// AdminSolveMetricsHandler handles GET /v1/admin/solve-metrics?solveId=
func (s *Server) AdminSolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solve-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	solveID := r.URL.Query().Get("solveId")
	if solveID == "" {
		writeProblem(w, 400, "Missing solveId", "", r.URL.Path)
		return
	}
	// Prefer persisted metrics; fall back to the in-process snapshot
	items, err := s.Store.ListSearchMetrics(r.Context(), solveID)
	if err != nil || len(items) == 0 {
		items = solve.GetMetrics(solveID)
	}
	writeJSON(w, 200, map[string]any{"solveId": solveID, "tiers": items})
}

// ZonesHandler handles GET /v1/zones: the hub-zone set and a dry-run
// classification of posted stops.
func (s *Server) ZonesHandler(w http.ResponseWriter, r *http.Request) {
	cls := zone.NewClassifier(s.Cfg.Hub.ZonesViaHub)
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"hubEnabled": s.Cfg.Hub.Enabled, "zonesViaHub": cls.Zones()})
	case http.MethodPost:
		var req struct {
			Stops []StopIn `json:"stops"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		stops, err := toStops(req.Stops)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid stop window", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, cls.Summarize(stops))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.Store.ListSolves(r.Context(), "", 1); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// DebugHandler handles GET /debug
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"hubEnabled": s.Cfg.Hub.Enabled,
			"strategy":   s.Cfg.Solver.Strategy,
			"provider":   s.Cfg.Matrix.Provider,
		},
	})
}
