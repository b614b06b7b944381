package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/society"
)

func TestSpawnPopulation_Shared(t *testing.T) {
	s := NewSpawner(entropy.NewSource(1), GenomeShared, nil)
	pop := s.SpawnPopulation(10)

	require.Len(t, pop, 10)
	shared := s.SharedGenome()
	require.NotNil(t, shared)
	for i, a := range pop {
		assert.Equal(t, AgentID(i), a.ID)
		assert.Same(t, shared, a.Chromosome)
		assert.Equal(t, ChromosomeLength, a.Chromosome.Len())
	}
}

func TestSpawnPopulation_Private(t *testing.T) {
	s := NewSpawner(entropy.NewSource(1), GenomePrivate, nil)
	pop := s.SpawnPopulation(3)

	assert.Nil(t, s.SharedGenome())
	assert.NotSame(t, pop[0].Chromosome, pop[1].Chromosome)
	assert.NotEqual(t, pop[0].Chromosome.Encode(), pop[1].Chromosome.Encode())
}

func TestSpawnPopulation_ProvidedGenome(t *testing.T) {
	genome := uniform(t, society.Buddies)
	s := NewSpawner(entropy.NewSource(1), GenomeShared, genome)
	for _, a := range s.SpawnPopulation(4) {
		assert.Same(t, genome, a.Chromosome)
	}
}

func TestSpawnPopulation_PrivateIgnoresProvidedGenome(t *testing.T) {
	genome := uniform(t, society.Buddies)
	s := NewSpawner(entropy.NewSource(1), GenomePrivate, genome)
	pop := s.SpawnPopulation(3)

	assert.Nil(t, s.SharedGenome())
	for _, a := range pop {
		assert.NotSame(t, genome, a.Chromosome)
	}
}

func TestSpawnPopulation_Deterministic(t *testing.T) {
	a := NewSpawner(entropy.NewSource(77), GenomePrivate, nil).SpawnPopulation(5)
	b := NewSpawner(entropy.NewSource(77), GenomePrivate, nil).SpawnPopulation(5)
	for i := range a {
		assert.Equal(t, a[i].Society, b[i].Society)
		assert.Equal(t, a[i].History, b[i].History)
		assert.Equal(t, a[i].Chromosome.Encode(), b[i].Chromosome.Encode())
	}
}

func TestParseGenomeMode(t *testing.T) {
	m, err := ParseGenomeMode("Private")
	require.NoError(t, err)
	assert.Equal(t, GenomePrivate, m)

	m, err = ParseGenomeMode("")
	require.NoError(t, err)
	assert.Equal(t, GenomeShared, m)

	_, err = ParseGenomeMode("pooled")
	assert.Error(t, err)
}

func TestChromosomeValidation(t *testing.T) {
	_, err := NewChromosome(make([]society.Society, 10))
	assert.ErrorIs(t, err, ErrChromosomeLength)

	genes := make([]society.Society, ChromosomeLength)
	genes[100] = society.Society(7)
	_, err = NewChromosome(genes)
	assert.ErrorIs(t, err, ErrInvalidSociety)

	_, err = UniformChromosome(society.Society(7))
	assert.ErrorIs(t, err, ErrInvalidSociety)

	c, err := UniformChromosome(society.FightClub)
	require.NoError(t, err)
	assert.Equal(t, [society.AlphabetSize]int{society.FightClub: ChromosomeLength}, c.Distribution())
}

func TestChromosomeEncodeDecode(t *testing.T) {
	c := RandomChromosome(entropy.NewSource(5))
	back, err := DecodeChromosome(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c.Encode(), back.Encode())

	dist := c.Distribution()
	total := 0
	for _, n := range dist {
		total += n
	}
	assert.Equal(t, ChromosomeLength, total)

	_, err = DecodeChromosome("0123")
	assert.ErrorIs(t, err, ErrChromosomeLength)
}
