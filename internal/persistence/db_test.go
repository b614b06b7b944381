package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/entropy"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "societies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestSim(t *testing.T, mode agents.GenomeMode) *engine.Simulator {
	t.Helper()
	sim, err := engine.NewSimulator(engine.Config{Agents: 8, Headless: true, Genome: mode}, entropy.NewSource(21), nil)
	require.NoError(t, err)
	require.NoError(t, sim.Run(100))
	return sim
}

func TestSaveRunStateRoundTrip_Shared(t *testing.T) {
	db := openTestDB(t)
	sim := newTestSim(t, agents.GenomeShared)
	run := NewRun(sim.Seed(), len(sim.Agents), sim.Genome)

	require.NoError(t, db.SaveRunState(run, sim))

	loaded, ok, err := db.LoadRun(run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(21), loaded.Seed)
	assert.Equal(t, 8, loaded.Agents)
	assert.Equal(t, "shared", loaded.Genome)
	assert.Equal(t, int64(100), loaded.Steps)

	rows, err := db.LoadAgents(run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	for i, row := range rows {
		a := sim.Agents[i]
		assert.Equal(t, int64(a.ID), row.AgentID)
		assert.Equal(t, int(a.Society), row.Society)
		assert.Equal(t, a.History.String(), row.History)
		assert.Equal(t, a.TotalPayoff, row.TotalPayoff)
		assert.Equal(t, a.RoundsPlayed, row.RoundsPlayed)
	}

	genome, ok, err := db.LoadChromosome(run.ID, SharedOwner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sim.SharedGenome.Encode(), genome.Encode())

	// Saving again replaces agents rather than duplicating them.
	require.NoError(t, sim.Run(10))
	require.NoError(t, db.SaveRunState(run, sim))
	rows, err = db.LoadAgents(run.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 8)
	loaded, _, err = db.LoadRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), loaded.Steps)
}

func TestSaveRunState_PrivateChromosomes(t *testing.T) {
	db := openTestDB(t)
	sim := newTestSim(t, agents.GenomePrivate)
	run := NewRun(sim.Seed(), len(sim.Agents), sim.Genome)
	require.NoError(t, db.SaveRunState(run, sim))

	_, ok, err := db.LoadChromosome(run.ID, SharedOwner)
	require.NoError(t, err)
	assert.False(t, ok)

	c, ok, err := db.LoadChromosome(run.ID, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sim.Agents[3].Chromosome.Encode(), c.Encode())
}

func TestLoadRun_Missing(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.LoadRun("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRuns(t *testing.T) {
	db := openTestDB(t)
	sim := newTestSim(t, agents.GenomeShared)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.SaveRunState(NewRun(int64(i+1), len(sim.Agents), sim.Genome), sim))
	}
	runs, err := db.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStatsHistory(t *testing.T) {
	db := openTestDB(t)
	sim := newTestSim(t, agents.GenomeShared)
	run := NewRun(sim.Seed(), len(sim.Agents), sim.Genome)

	for i := 0; i < 5; i++ {
		require.NoError(t, sim.Run(20))
		sim.RefreshStats()
		require.NoError(t, db.SaveStats(run.ID, sim.Stats))
	}

	rows, err := db.LoadStatsHistory(run.ID, 0, 1<<62, 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, int64(120), rows[0].Step)
	assert.Equal(t, int64(200), rows[4].Step)
	last := rows[4]
	assert.Equal(t, 8, last.Saints+last.Buddies+last.FightClub+last.Vandals)

	rows, err = db.LoadStatsHistory(run.ID, 150, 190, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestEvents(t *testing.T) {
	db := openTestDB(t)
	events := []engine.Event{
		{Step: 1, Description: "Agent 1 left Saints for Vandals", Category: "society"},
		{Step: 2, Description: "population reset", Category: "run"},
	}
	require.NoError(t, db.SaveEvents("run-1", events))
	require.NoError(t, db.SaveEvents("run-1", nil))

	got, err := db.RecentEvents("run-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "population reset", got[0].Description)
	assert.Equal(t, uint64(1), got[1].Step)

	other, err := db.RecentEvents("run-2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
