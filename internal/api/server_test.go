package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/persistence"
	"github.com/talgya/societies/internal/society"
)

// newTestServer runs a small visual simulation with the server as its
// visualizer.
func newTestServer(t *testing.T) (*Server, *engine.Simulator) {
	t.Helper()
	srv := &Server{RunID: "run-test", AdminKey: "secret", StreamInterval: 10 * time.Millisecond}
	sim, err := engine.NewSimulator(engine.Config{Agents: 12}, entropy.NewSource(10), srv)
	require.NoError(t, err)
	require.NoError(t, sim.Run(50))
	sim.RefreshStats()
	srv.PublishStats(sim.Stats)
	return srv, sim
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	srv, sim := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-test", body["run_id"])
	assert.Equal(t, float64(12), body["population"])
	assert.Equal(t, float64(50), body["updates"])
	assert.Equal(t, float64(sim.CurrentStep()), body["step"])
	assert.NotContains(t, body, "speed", "no engine attached")
}

func TestAgentsAndFilter(t *testing.T) {
	srv, sim := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/agents", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []engine.AgentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 12)

	// The server holds the snapshot taken before the last round.
	var vandals int
	for _, a := range all {
		if a.Society == society.Vandals {
			vandals++
		}
	}
	rec = do(t, h, http.MethodGet, "/api/v1/agents?society=vandals", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered []engine.AgentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	assert.Len(t, filtered, vandals)

	rec = do(t, h, http.MethodGet, "/api/v1/agents?society=pirates", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_ = sim
}

func TestAgentDetail(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/agent/3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a engine.AgentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, agents.AgentID(3), a.ID)
	assert.Len(t, a.History, agents.HistoryLength)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/agent/99", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/agent/abc", "", "").Code)
}

func TestStats(t *testing.T) {
	srv, sim := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats           engine.SimStats `json:"stats"`
		CooperationRate float64         `json:"cooperation_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, sim.Stats.SocietySwitches, body.Stats.SocietySwitches)
	assert.Equal(t, 12, body.Stats.Population)
	assert.InDelta(t, sim.Stats.CooperationRate(), body.CooperationRate, 1e-9)
}

func TestSpeedRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	// No engine attached.
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/speed", "", "").Code)

	srv.Eng = engine.NewEngine()
	h = srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`, "wrong").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":5000}`, "secret").Code)

	rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2.5}`, "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.5, srv.Eng.Speed())

	rec = do(t, h, http.MethodGet, "/api/v1/speed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"speed":2.5}`, rec.Body.String())

	srv.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":1}`, "secret").Code)
}

func TestSnapshotSchedulesSave(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/v1/snapshot", "", "secret").Code)

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	srv.DB = db

	assert.False(t, srv.TakeSnapshotRequest())
	rec := do(t, h, http.MethodPost, "/api/v1/snapshot", "", "secret")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, srv.TakeSnapshotRequest())
	assert.False(t, srv.TakeSnapshotRequest(), "request is cleared once taken")
}

func TestHistoryAndEventsFromDB(t *testing.T) {
	srv, sim := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/events", "", "").Code)

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	srv.DB = db

	require.NoError(t, db.SaveStats(srv.RunID, sim.Stats))
	require.NoError(t, db.SaveEvents(srv.RunID, []engine.Event{{Step: 4, Description: "Agent 2 left Saints for Buddies", Category: "society"}}))

	rec := do(t, h, http.MethodGet, "/api/v1/stats/history?limit=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []persistence.StatsRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(50), rows[0].Step)

	rec = do(t, h, http.MethodGet, "/api/v1/events", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []engine.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, uint64(4), events[0].Step)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "societysim_rounds_total")
}

func TestStreamSendsPopulationFrame(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, "event: population")

	line := body[strings.Index(body, "data: ")+len("data: "):]
	line = line[:strings.Index(line, "\n")]
	var frame streamFrame
	require.NoError(t, json.Unmarshal([]byte(line), &frame))
	assert.Len(t, frame.Societies, 12)
	assert.Equal(t, uint64(50), frame.Update)
}

func TestCORSOnlyForConfiguredOrigins(t *testing.T) {
	srv, _ := newTestServer(t)

	get := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("http://localhost:5173")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "no origins configured")

	srv.AllowedOrigins = []string{"https://dash.example"}
	assert.Equal(t, "https://dash.example", get("https://dash.example").Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, get("https://other.example").Header().Get("Access-Control-Allow-Origin"))

	srv.AllowedOrigins = []string{"*"}
	assert.Equal(t, "https://other.example", get("https://other.example").Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/speed", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
