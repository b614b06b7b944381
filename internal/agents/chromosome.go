package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/society"
)

// Chromosome maps every possible history index to the society an agent
// switches to. It is read-only once built and may be shared by any number
// of agents.
type Chromosome struct {
	genes []society.Society
}

// NewChromosome validates genes and copies them into a chromosome.
func NewChromosome(genes []society.Society) (*Chromosome, error) {
	if len(genes) != ChromosomeLength {
		return nil, fmt.Errorf("%w: got %d genes, want %d", ErrChromosomeLength, len(genes), ChromosomeLength)
	}
	for i, g := range genes {
		if !g.Valid() {
			return nil, fmt.Errorf("%w: gene %d is %d", ErrInvalidSociety, i, uint8(g))
		}
	}
	c := &Chromosome{genes: make([]society.Society, len(genes))}
	copy(c.genes, genes)
	return c, nil
}

// RandomChromosome draws ChromosomeLength uniform genes from rng.
func RandomChromosome(rng *entropy.Source) *Chromosome {
	genes := make([]society.Society, ChromosomeLength)
	for i := range genes {
		genes[i] = rng.Society()
	}
	return &Chromosome{genes: genes}
}

// UniformChromosome maps every history to s.
func UniformChromosome(s society.Society) (*Chromosome, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSociety, uint8(s))
	}
	genes := make([]society.Society, ChromosomeLength)
	for i := range genes {
		genes[i] = s
	}
	return &Chromosome{genes: genes}, nil
}

// Len returns the number of genes.
func (c *Chromosome) Len() int {
	return len(c.genes)
}

// Lookup returns the gene at index.
func (c *Chromosome) Lookup(index int) (society.Society, error) {
	if index < 0 || index >= len(c.genes) {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrChromosomeIndex, index, len(c.genes))
	}
	return c.genes[index], nil
}

// Encode renders the genes as a digit string, one society code per gene.
func (c *Chromosome) Encode() string {
	var b strings.Builder
	b.Grow(len(c.genes))
	for _, g := range c.genes {
		b.WriteByte(g.Code())
	}
	return b.String()
}

// DecodeChromosome is the inverse of Encode.
func DecodeChromosome(s string) (*Chromosome, error) {
	genes := make([]society.Society, len(s))
	for i := 0; i < len(s); i++ {
		g, err := society.FromCode(s[i])
		if err != nil {
			return nil, fmt.Errorf("%w: gene %d: %v", ErrInvalidSociety, i, err)
		}
		genes[i] = g
	}
	return NewChromosome(genes)
}

// Distribution counts genes per society.
func (c *Chromosome) Distribution() [society.AlphabetSize]int {
	var counts [society.AlphabetSize]int
	for _, g := range c.genes {
		counts[g]++
	}
	return counts
}
