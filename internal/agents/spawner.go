// Agent spawning: builds the initial population and decides who owns which
// chromosome.
package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/societies/internal/entropy"
)

// GenomeMode selects how chromosomes are owned across the population.
type GenomeMode uint8

const (
	GenomeShared  GenomeMode = iota // One genome for the whole population
	GenomePrivate                   // One random genome per agent
)

func (m GenomeMode) String() string {
	switch m {
	case GenomeShared:
		return "shared"
	case GenomePrivate:
		return "private"
	default:
		return fmt.Sprintf("GenomeMode(%d)", uint8(m))
	}
}

// ParseGenomeMode accepts "shared" or "private".
func ParseGenomeMode(v string) (GenomeMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "shared":
		return GenomeShared, nil
	case "private":
		return GenomePrivate, nil
	default:
		return 0, fmt.Errorf("unknown genome mode %q (want shared or private)", v)
	}
}

func (m GenomeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *GenomeMode) UnmarshalText(b []byte) error {
	v, err := ParseGenomeMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *entropy.Source
	mode   GenomeMode
	shared *Chromosome
	nextID AgentID
}

// NewSpawner creates a spawner drawing from rng. When shared is non-nil and
// mode is GenomeShared, that genome is used instead of a random one.
func NewSpawner(rng *entropy.Source, mode GenomeMode, shared *Chromosome) *Spawner {
	return &Spawner{rng: rng, mode: mode, shared: shared}
}

// SharedGenome returns the population genome, or nil in private mode.
func (s *Spawner) SharedGenome() *Chromosome {
	if s.mode != GenomeShared {
		return nil
	}
	return s.shared
}

// SpawnPopulation creates count agents with consecutive IDs starting at 0.
//
// Draw order is fixed: in shared mode the genome is drawn first, then each
// agent's society and history; in private mode each agent draws its genome
// and then its society and history.
func (s *Spawner) SpawnPopulation(count int) []*Agent {
	if s.mode == GenomeShared && s.shared == nil {
		s.shared = RandomChromosome(s.rng)
	}

	population := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		chromosome := s.shared
		if s.mode == GenomePrivate {
			chromosome = RandomChromosome(s.rng)
		}
		population = append(population, New(s.nextID, chromosome, s.rng))
		s.nextID++
	}
	return population
}
