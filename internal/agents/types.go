// Package agents provides the agent data model: society assignment, rolling
// interaction history, the chromosome lookup table, and payoff bookkeeping.
package agents

import (
	"errors"
	"fmt"

	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/society"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// HistoryLength is the number of digits kept in an agent's history: the last
// three interactions, two digits each (own society code, opponent code).
const HistoryLength = 6

// ChromosomeLength is AlphabetSize^HistoryLength, one gene per possible history.
const ChromosomeLength = society.AlphabetSize * society.AlphabetSize * society.AlphabetSize *
	society.AlphabetSize * society.AlphabetSize * society.AlphabetSize

var (
	ErrChromosomeIndex  = errors.New("chromosome index out of range")
	ErrChromosomeLength = errors.New("chromosome has wrong length")
	ErrInvalidSociety   = errors.New("invalid society")
	ErrInvalidHistory   = errors.New("invalid history")
)

// Agent is a single member of the population.
type Agent struct {
	ID           AgentID         `json:"id"`
	Society      society.Society `json:"society"`
	History      History         `json:"history"`
	TotalPayoff  int             `json:"total_payoff"`
	RoundsPlayed int             `json:"rounds_played"`

	// Chromosome may be shared with other agents; it is never written after creation.
	Chromosome *Chromosome `json:"-"`
}

// New creates an agent with a random society and history drawn from rng.
func New(id AgentID, chromosome *Chromosome, rng *entropy.Source) *Agent {
	a := &Agent{ID: id, Chromosome: chromosome}
	a.Reset(rng)
	return a
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent %d - (society=%s, total_payoff=%d, rounds_played=%d, history=%s)",
		a.ID, a.Society, a.TotalPayoff, a.RoundsPlayed, a.History)
}

// History is the encoded record of recent interactions, oldest first.
// Each byte is a society code digit.
type History [HistoryLength]byte

// ParseHistory decodes a digit string such as "012301".
func ParseHistory(s string) (History, error) {
	var h History
	if len(s) != HistoryLength {
		return h, fmt.Errorf("%w: %q has %d digits, want %d", ErrInvalidHistory, s, len(s), HistoryLength)
	}
	for i := 0; i < HistoryLength; i++ {
		if _, err := society.FromCode(s[i]); err != nil {
			return h, fmt.Errorf("%w: %q: %v", ErrInvalidHistory, s, err)
		}
		h[i] = s[i]
	}
	return h, nil
}

func (h History) String() string {
	return string(h[:])
}

// Valid reports whether every digit is a society code.
func (h History) Valid() bool {
	for _, c := range h {
		if _, err := society.FromCode(c); err != nil {
			return false
		}
	}
	return true
}

// Index interprets the history as a base-AlphabetSize integer, most
// significant digit first. Digits are not validated here; an invalid digit
// yields an index the chromosome lookup will reject.
func (h History) Index() int {
	idx := 0
	for _, c := range h {
		idx = idx*society.AlphabetSize + int(c) - '0'
	}
	return idx
}

// Push drops the oldest interaction and appends (own, opponent).
func (h History) Push(own, opponent society.Society) History {
	var next History
	copy(next[:], h[2:])
	next[HistoryLength-2] = own.Code()
	next[HistoryLength-1] = opponent.Code()
	return next
}

func (h History) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *History) UnmarshalText(b []byte) error {
	v, err := ParseHistory(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
