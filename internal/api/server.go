// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
//
// The server never reads simulator state directly. It is an
// engine.Visualizer: the engine goroutine pushes copied snapshots and
// statistics into it, and handlers serve those copies.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/persistence"
	"github.com/talgya/societies/internal/society"
)

const maxSSEConns = 4

// Server serves simulation state over HTTP.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB
	RunID    string
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// AllowedOrigins lists browser origins granted CORS access.
	AllowedOrigins []string

	// Limiter guards the stream and admin endpoints. Nil disables limiting.
	Limiter *RateLimiter

	// StreamInterval is the minimum time between SSE frames.
	StreamInterval time.Duration

	mu         sync.RWMutex
	population []engine.AgentState
	stats      engine.SimStats
	updates    uint64

	sseConns        int32
	snapshotPending atomic.Bool
	httpServer      *http.Server
}

// Init implements engine.Visualizer.
func (s *Server) Init(population []engine.AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.population = population
	s.updates = 0
}

// Update implements engine.Visualizer.
func (s *Server) Update(population []engine.AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.population = population
	s.updates++
}

// PublishStats stores the latest statistics for the stats endpoints.
func (s *Server) PublishStats(st engine.SimStats) {
	counts := make(map[society.Society]int, len(st.SocietyCounts))
	for k, v := range st.SocietyCounts {
		counts[k] = v
	}
	st.SocietyCounts = counts

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
}

// TakeSnapshotRequest reports whether an admin asked for a save since the
// last call, and clears the request.
func (s *Server) TakeSnapshotRequest() bool {
	return s.snapshotPending.Swap(false)
}

func (s *Server) view() ([]engine.AgentState, engine.SimStats, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.population, s.stats, s.updates
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		if s.Limiter == nil {
			return h
		}
		return RateLimitMiddleware(s.Limiter, h)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgentDetail)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stream", limited(s.handleStream))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", limited(s.requireAdmin(s.handleSpeed)))
	mux.HandleFunc("POST /api/v1/snapshot", limited(s.requireAdmin(s.handleSnapshot)))

	return s.withCORS(mux)
}

// Start begins serving the HTTP API in a goroutine. The server shuts down
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown", "error", err)
		}
	}()
}

// withCORS answers preflight requests and sets CORS headers for origins
// listed in AllowedOrigins. "*" allows any origin. With no origins
// configured no CORS headers are sent.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.AllowedOrigins))
	for _, o := range s.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && (allowed[origin] || allowed["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAdmin compares the request's bearer token with AdminKey in constant time.
func (s *Server) isAdmin(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// requireAdmin guards the control endpoints. Reads pass through so GET
// /speed stays public; anything else needs the admin token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next(w, r)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "control endpoints disabled: no admin key configured", http.StatusForbidden)
			return
		}
		if !s.isAdmin(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	population, stats, updates := s.view()

	status := map[string]any{
		"name":             "societies",
		"run_id":           s.RunID,
		"step":             stats.Step,
		"updates":          updates,
		"population":       len(population),
		"society_counts":   countSocieties(population),
		"cooperation_rate": stats.CooperationRate(),
		"avg_fitness":      stats.AvgFitness,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	population, _, _ := s.view()

	filter := r.URL.Query().Get("society")
	if filter == "" {
		writeJSON(w, population)
		return
	}

	want, err := society.Parse(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := make([]engine.AgentState, 0)
	for _, a := range population {
		if a.Society == want {
			result = append(result, a)
		}
	}
	writeJSON(w, result)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	population, _, _ := s.view()
	// Agent IDs are dense, so the ID is also the slice index.
	if id >= uint64(len(population)) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, population[id])
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, stats, _ := s.view()
	writeJSON(w, map[string]any{
		"stats":            stats,
		"cooperation_rate": stats.CooperationRate(),
	})
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	fromStep := int64(0)
	toStep := int64(1<<63 - 1)
	limit := 100

	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			fromStep = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			toStep = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	rows, err := s.DB.LoadStatsHistory(s.RunID, fromStep, toStep, limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		// Return an empty array; the table may not have data yet.
		writeJSON(w, []persistence.StatsRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StatsRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := s.DB.RecentEvents(s.RunID, limit)
	if err != nil {
		slog.Error("events query failed", "error", err)
		http.Error(w, "events unavailable", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}

	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	} else if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleSnapshot schedules a save; the engine goroutine performs it on its
// next tick.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	s.snapshotPending.Store(true)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{
		"run_id":  s.RunID,
		"message": "snapshot scheduled",
	})
}

// streamFrame is one SSE payload: societies encoded as a digit string in
// agent ID order.
type streamFrame struct {
	Update    uint64 `json:"update"`
	Step      uint64 `json:"step"`
	Societies string `json:"societies"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := s.StreamInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	// Initial frame as catch-up.
	lastSent := s.writeFrame(w)
	flusher.Flush()

	slog.Info("SSE client connected", "remote", clientIP(r))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ticker.C:
			_, _, updates := s.view()
			if updates == lastSent {
				continue
			}
			lastSent = s.writeFrame(w)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "remote", clientIP(r))
			return
		}
	}
}

// writeFrame writes the current population as a "population" SSE event and
// returns the update counter it reflects.
func (s *Server) writeFrame(w http.ResponseWriter) uint64 {
	population, stats, updates := s.view()

	codes := make([]byte, len(population))
	for i, a := range population {
		codes[i] = a.Society.Code()
	}
	data, err := json.Marshal(streamFrame{Update: updates, Step: stats.Step, Societies: string(codes)})
	if err != nil {
		return updates
	}
	fmt.Fprintf(w, "event: population\ndata: %s\n\n", data)
	return updates
}

func countSocieties(population []engine.AgentState) map[society.Society]int {
	counts := make(map[society.Society]int, society.AlphabetSize)
	for _, s := range society.All {
		counts[s] = 0
	}
	for _, a := range population {
		counts[a.Society]++
	}
	return counts
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
