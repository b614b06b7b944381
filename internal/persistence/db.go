// Package persistence provides SQLite storage for simulation runs: run
// metadata, final population state, chromosomes, periodic statistics and
// the event log.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/society"
)

// SharedOwner is the chromosome owner recorded for a population-wide genome.
const SharedOwner int64 = -1

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// RunRecord describes one simulation run.
type RunRecord struct {
	ID        string `db:"id" json:"id"`
	Seed      int64  `db:"seed" json:"seed"`
	Agents    int    `db:"agents" json:"agents"`
	Genome    string `db:"genome" json:"genome"`
	Steps     int64  `db:"steps" json:"steps"`
	CreatedAt int64  `db:"created_at" json:"created_at"` // Unix seconds
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// NewRun creates a record with a fresh run ID.
func NewRun(seed int64, population int, genome agents.GenomeMode) RunRecord {
	now := time.Now().Unix()
	return RunRecord{
		ID:        uuid.NewString(),
		Seed:      seed,
		Agents:    population,
		Genome:    genome.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AgentRow is the persisted state of one agent at save time.
type AgentRow struct {
	RunID        string  `db:"run_id" json:"run_id"`
	AgentID      int64   `db:"agent_id" json:"agent_id"`
	Society      int     `db:"society" json:"society"`
	History      string  `db:"history" json:"history"`
	TotalPayoff  int     `db:"total_payoff" json:"total_payoff"`
	RoundsPlayed int     `db:"rounds_played" json:"rounds_played"`
	Fitness      float64 `db:"fitness" json:"fitness"`
}

// StatsRow is one periodic statistics sample.
type StatsRow struct {
	RunID           string  `db:"run_id" json:"run_id"`
	Step            int64   `db:"step" json:"step"`
	Saints          int     `db:"saints" json:"saints"`
	Buddies         int     `db:"buddies" json:"buddies"`
	FightClub       int     `db:"fight_club" json:"fight_club"`
	Vandals         int     `db:"vandals" json:"vandals"`
	TotalPayoff     int64   `db:"total_payoff" json:"total_payoff"`
	AvgFitness      float64 `db:"avg_fitness" json:"avg_fitness"`
	BestFitness     float64 `db:"best_fitness" json:"best_fitness"`
	CooperationRate float64 `db:"cooperation_rate" json:"cooperation_rate"`
	Switches        int64   `db:"switches" json:"switches"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		genome TEXT NOT NULL,
		steps INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		society INTEGER NOT NULL,
		history TEXT NOT NULL,
		total_payoff INTEGER NOT NULL,
		rounds_played INTEGER NOT NULL,
		fitness REAL NOT NULL,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS chromosomes (
		run_id TEXT NOT NULL,
		owner INTEGER NOT NULL,
		genes TEXT NOT NULL,
		PRIMARY KEY (run_id, owner)
	);

	CREATE TABLE IF NOT EXISTS stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		saints INTEGER NOT NULL,
		buddies INTEGER NOT NULL,
		fight_club INTEGER NOT NULL,
		vandals INTEGER NOT NULL,
		total_payoff INTEGER NOT NULL,
		avg_fitness REAL NOT NULL,
		best_fitness REAL NOT NULL,
		cooperation_rate REAL NOT NULL,
		switches INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stats_run_step ON stats(run_id, step);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// LoadRun returns the run with the given ID.
func (db *DB) LoadRun(id string) (RunRecord, bool, error) {
	var run RunRecord
	err := db.conn.Get(&run, "SELECT * FROM runs WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the most recently updated runs first.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY updated_at DESC, id LIMIT ?", limit)
	return runs, err
}

// SaveRunState performs a full save of a run: metadata, every agent (full
// replace) and any chromosomes not stored yet.
func (db *DB) SaveRunState(run RunRecord, sim *engine.Simulator) error {
	slog.Info("saving run state", "run", run.ID, "agents", len(sim.Agents), "step", sim.CurrentStep())

	run.Steps = int64(sim.CurrentStep())
	run.UpdatedAt = time.Now().Unix()

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`
		INSERT INTO runs (id, seed, agents, genome, steps, created_at, updated_at)
		VALUES (:id, :seed, :agents, :genome, :steps, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			steps = excluded.steps,
			updated_at = excluded.updated_at
	`, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ?", run.ID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, agent_id, society, history, total_payoff, rounds_played, fitness)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range sim.Agents {
		if _, err := stmt.Exec(run.ID, int64(a.ID), int(a.Society), a.History.String(),
			a.TotalPayoff, a.RoundsPlayed, a.Fitness()); err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	chromo := `INSERT OR IGNORE INTO chromosomes (run_id, owner, genes) VALUES (?, ?, ?)`
	if sim.SharedGenome != nil {
		if _, err := tx.Exec(chromo, run.ID, SharedOwner, sim.SharedGenome.Encode()); err != nil {
			return fmt.Errorf("insert shared chromosome: %w", err)
		}
	} else {
		for _, a := range sim.Agents {
			if _, err := tx.Exec(chromo, run.ID, int64(a.ID), a.Chromosome.Encode()); err != nil {
				return fmt.Errorf("insert chromosome %d: %w", a.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run state saved", "run", run.ID)
	return nil
}

// LoadAgents returns the saved population of a run ordered by agent ID.
func (db *DB) LoadAgents(runID string) ([]AgentRow, error) {
	var rows []AgentRow
	err := db.conn.Select(&rows, "SELECT * FROM agents WHERE run_id = ? ORDER BY agent_id", runID)
	return rows, err
}

// LoadChromosome returns a stored chromosome. Use SharedOwner for the
// population genome.
func (db *DB) LoadChromosome(runID string, owner int64) (*agents.Chromosome, bool, error) {
	var genes string
	err := db.conn.Get(&genes, "SELECT genes FROM chromosomes WHERE run_id = ? AND owner = ?", runID, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	c, err := agents.DecodeChromosome(genes)
	if err != nil {
		return nil, false, fmt.Errorf("decode chromosome %s/%d: %w", runID, owner, err)
	}
	return c, true, nil
}

// SaveStats appends a statistics sample for a run.
func (db *DB) SaveStats(runID string, st engine.SimStats) error {
	_, err := db.conn.Exec(`INSERT INTO stats
		(run_id, step, saints, buddies, fight_club, vandals, total_payoff,
		 avg_fitness, best_fitness, cooperation_rate, switches)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(st.Step),
		st.SocietyCounts[society.Saints], st.SocietyCounts[society.Buddies],
		st.SocietyCounts[society.FightClub], st.SocietyCounts[society.Vandals],
		st.TotalPayoff, st.AvgFitness, st.BestFitness, st.CooperationRate(),
		int64(st.SocietySwitches),
	)
	return err
}

// LoadStatsHistory returns up to limit samples with step in [fromStep, toStep].
func (db *DB) LoadStatsHistory(runID string, fromStep, toStep int64, limit int) ([]StatsRow, error) {
	var rows []StatsRow
	err := db.conn.Select(&rows, `SELECT run_id, step, saints, buddies, fight_club, vandals,
			total_payoff, avg_fitness, best_fitness, cooperation_rate, switches
		FROM stats WHERE run_id = ? AND step >= ? AND step <= ?
		ORDER BY step LIMIT ?`,
		runID, fromStep, toStep, limit,
	)
	return rows, err
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, step, description, category) VALUES (?, ?, ?, ?)",
			runID, int64(e.Step), e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT step, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}
