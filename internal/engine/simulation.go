// Simulation owns the agent population and plays rounds between random pairs.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/society"
)

var (
	ErrPopulationTooSmall = errors.New("population needs at least two agents")
	ErrVisualizerRequired = errors.New("visual mode requires a visualizer")
	ErrGenomeConflict     = errors.New("a provided genome requires shared genome mode")
)

// maxEvents bounds the in-memory event log and the undrained backlog.
const maxEvents = 1000

// Visualizer receives population snapshots. It must not retain or mutate
// simulator state; each snapshot is a fresh copy.
type Visualizer interface {
	Init(population []AgentState)
	Update(population []AgentState)
}

// AgentState is a read-only copy of one agent for visualizers and the API.
type AgentState struct {
	ID           agents.AgentID  `json:"id"`
	Society      society.Society `json:"society"`
	History      string          `json:"history"`
	TotalPayoff  int             `json:"total_payoff"`
	RoundsPlayed int             `json:"rounds_played"`
	Fitness      float64         `json:"fitness"`
}

// Config controls population construction.
type Config struct {
	Agents   int
	Headless bool
	Genome   agents.GenomeMode

	// SharedGenome, if set, is used as the population genome in shared mode
	// instead of drawing one from the random source.
	SharedGenome *agents.Chromosome
}

// Pair identifies the two agents selected for a step.
type Pair struct {
	First  agents.AgentID `json:"first"`
	Second agents.AgentID `json:"second"`
}

// Event is a notable occurrence in the simulation.
type Event struct {
	Step        uint64 `json:"step"`
	Description string `json:"description"`
	Category    string `json:"category"` // "society", "run"
}

// SimStats tracks aggregate population statistics.
type SimStats struct {
	Step          uint64                  `json:"step"`
	Population    int                     `json:"population"`
	SocietyCounts map[society.Society]int `json:"society_counts"`
	TotalPayoff   int64                   `json:"total_payoff"`
	AvgFitness    float64                 `json:"avg_fitness"`
	BestFitness   float64                 `json:"best_fitness"`

	// Outcome counters accumulate over the whole run.
	MutualCooperation uint64 `json:"mutual_cooperation"`
	Exploitations     uint64 `json:"exploitations"`
	MutualDefection   uint64 `json:"mutual_defection"`
	SocietySwitches   uint64 `json:"society_switches"`
}

// CooperationRate is the share of rounds that ended in mutual cooperation.
func (st SimStats) CooperationRate() float64 {
	total := st.MutualCooperation + st.Exploitations + st.MutualDefection
	if total == 0 {
		return 0
	}
	return float64(st.MutualCooperation) / float64(total)
}

// Simulator holds the population and drives rounds. It is single-threaded:
// callers must not use a Simulator from more than one goroutine.
type Simulator struct {
	Agents   []*agents.Agent
	Headless bool
	Genome   agents.GenomeMode

	// SharedGenome is the population genome in shared mode, nil otherwise.
	SharedGenome *agents.Chromosome

	Events   []Event // Recent events, bounded
	Stats    SimStats
	LastPair Pair

	rng     *entropy.Source
	vis     Visualizer
	steps   uint64
	pending []Event // Events not yet drained for persistence
}

// NewSimulator creates the population from rng. When cfg.Headless is false
// vis is required and receives the initial population.
func NewSimulator(cfg Config, rng *entropy.Source, vis Visualizer) (*Simulator, error) {
	if cfg.Agents < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrPopulationTooSmall, cfg.Agents)
	}
	if !cfg.Headless && vis == nil {
		return nil, ErrVisualizerRequired
	}
	if cfg.SharedGenome != nil && cfg.Genome != agents.GenomeShared {
		return nil, fmt.Errorf("%w: mode is %s", ErrGenomeConflict, cfg.Genome)
	}

	spawner := agents.NewSpawner(rng, cfg.Genome, cfg.SharedGenome)
	population := spawner.SpawnPopulation(cfg.Agents)

	sim := &Simulator{
		Agents:       population,
		Headless:     cfg.Headless,
		Genome:       cfg.Genome,
		SharedGenome: spawner.SharedGenome(),
		rng:          rng,
		vis:          vis,
	}
	sim.RefreshStats()

	if !sim.Headless {
		sim.vis.Init(sim.Snapshot())
	}

	slog.Debug("population created",
		"agents", len(population),
		"genome", cfg.Genome,
		"seed", rng.Seed(),
	)
	return sim, nil
}

// CurrentStep returns the number of steps executed.
func (s *Simulator) CurrentStep() uint64 {
	return s.steps
}

// Seed returns the seed of the simulator's random source.
func (s *Simulator) Seed() int64 {
	return s.rng.Seed()
}

// Step picks two distinct agents and plays one round between them.
func (s *Simulator) Step() error {
	if len(s.Agents) < 2 {
		return fmt.Errorf("%w: have %d", ErrPopulationTooSmall, len(s.Agents))
	}

	a1 := entropy.Pick(s.rng, s.Agents)
	a2 := entropy.Pick(s.rng, s.Agents)
	for a2 == a1 {
		a2 = entropy.Pick(s.rng, s.Agents)
	}

	if !s.Headless {
		s.vis.Update(s.Snapshot())
	}

	s.steps++
	s.LastPair = Pair{First: a1.ID, Second: a2.ID}
	if err := s.PlayRound(a1, a2); err != nil {
		return fmt.Errorf("step %d: %w", s.steps, err)
	}
	return nil
}

// Run executes Step n times, stopping at the first error.
func (s *Simulator) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// PlayRound plays a round between a1 and a2 and records its outcome in the
// run statistics, metrics and event log.
func (s *Simulator) PlayRound(a1, a2 *agents.Agent) error {
	out, err := PlayRound(a1, a2)
	if err != nil {
		return err
	}

	switch out.Kind {
	case MutualCooperation:
		s.Stats.MutualCooperation++
	case FirstExploited, SecondExploited:
		s.Stats.Exploitations++
	case MutualDefection:
		s.Stats.MutualDefection++
	}

	for i, a := range [2]*agents.Agent{a1, a2} {
		if out.Before[i] == out.After[i] {
			continue
		}
		s.Stats.SocietySwitches++
		s.recordEvent(Event{
			Step:        s.steps,
			Description: fmt.Sprintf("Agent %d left %s for %s", a.ID, out.Before[i], out.After[i]),
			Category:    "society",
		})
	}

	recordRoundMetrics(out)
	return nil
}

// Snapshot copies the current population state.
func (s *Simulator) Snapshot() []AgentState {
	snap := make([]AgentState, len(s.Agents))
	for i, a := range s.Agents {
		snap[i] = AgentState{
			ID:           a.ID,
			Society:      a.Society,
			History:      a.History.String(),
			TotalPayoff:  a.TotalPayoff,
			RoundsPlayed: a.RoundsPlayed,
			Fitness:      a.Fitness(),
		}
	}
	return snap
}

// ResetAgents re-randomizes every agent's society and history and clears
// scores. Chromosomes and outcome counters are kept.
func (s *Simulator) ResetAgents() {
	for _, a := range s.Agents {
		a.Reset(s.rng)
	}
	s.recordEvent(Event{Step: s.steps, Description: "population reset", Category: "run"})
	s.RefreshStats()
}

// DrainEvents returns events recorded since the previous call.
func (s *Simulator) DrainEvents() []Event {
	out := s.pending
	s.pending = nil
	return out
}

func (s *Simulator) recordEvent(e Event) {
	s.Events = append(s.Events, e)
	s.pending = append(s.pending, e)
	// Keep only the most recent maxEvents in each log.
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	if len(s.pending) > maxEvents {
		s.pending = s.pending[len(s.pending)-maxEvents:]
	}
}

// RefreshStats recomputes the population aggregates.
func (s *Simulator) RefreshStats() {
	counts := make(map[society.Society]int, society.AlphabetSize)
	for _, soc := range society.All {
		counts[soc] = 0
	}

	var totalPayoff int64
	var totalFitness, best float64
	for _, a := range s.Agents {
		counts[a.Society]++
		totalPayoff += int64(a.TotalPayoff)
		f := a.Fitness()
		totalFitness += f
		if f > best {
			best = f
		}
	}

	s.Stats.Step = s.steps
	s.Stats.Population = len(s.Agents)
	s.Stats.SocietyCounts = counts
	s.Stats.TotalPayoff = totalPayoff
	s.Stats.BestFitness = best
	s.Stats.AvgFitness = 0
	if len(s.Agents) > 0 {
		s.Stats.AvgFitness = totalFitness / float64(len(s.Agents))
	}

	recordPopulationMetrics(counts)
}

// Report logs a summary of the current statistics.
func (s *Simulator) Report() {
	s.RefreshStats()
	slog.Info("population report",
		"step", s.steps,
		"saints", s.Stats.SocietyCounts[society.Saints],
		"buddies", s.Stats.SocietyCounts[society.Buddies],
		"fight_club", s.Stats.SocietyCounts[society.FightClub],
		"vandals", s.Stats.SocietyCounts[society.Vandals],
		"avg_fitness", fmt.Sprintf("%.3f", s.Stats.AvgFitness),
		"best_fitness", fmt.Sprintf("%.3f", s.Stats.BestFitness),
		"cooperation_rate", fmt.Sprintf("%.3f", s.Stats.CooperationRate()),
		"switches", s.Stats.SocietySwitches,
	)
}
