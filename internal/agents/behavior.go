// Per-round agent behavior: cooperation decisions, scoring, history and
// society transitions.
package agents

import (
	"fmt"

	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/society"
)

// CooperatesWith reports whether a cooperates with other. It depends only on
// the two societies.
func (a *Agent) CooperatesWith(other *Agent) bool {
	switch a.Society {
	case society.Saints:
		return true
	case society.Buddies:
		return other.Society == society.Buddies
	case society.FightClub:
		return other.Society != society.FightClub
	default:
		// Vandals never cooperate.
		return false
	}
}

// UpdateScore adds value to the cumulative payoff and counts one round.
func (a *Agent) UpdateScore(value int) {
	a.TotalPayoff += value
	a.RoundsPlayed++
}

// UpdateHistory records an interaction with opponent from a's perspective.
func (a *Agent) UpdateHistory(opponent *Agent) {
	a.History = a.History.Push(a.Society, opponent.Society)
}

// ChangeSociety looks up the agent's new society in its chromosome, keyed by
// the current history. The opponent does not influence the lookup.
func (a *Agent) ChangeSociety(opponent *Agent) error {
	next, err := a.Chromosome.Lookup(a.History.Index())
	if err != nil {
		return fmt.Errorf("agent %d history %s: %w", a.ID, a.History, err)
	}
	a.Society = next
	return nil
}

// Fitness is the mean payoff per round. Zero total payoff always yields 0.
func (a *Agent) Fitness() float64 {
	if a.TotalPayoff != 0 {
		return float64(a.TotalPayoff) / float64(a.RoundsPlayed)
	}
	return 0
}

// Reset zeroes the score and draws a fresh society and history from rng.
// ID and chromosome are kept.
func (a *Agent) Reset(rng *entropy.Source) {
	a.TotalPayoff = 0
	a.RoundsPlayed = 0
	a.Society = rng.Society()
	for i := range a.History {
		a.History[i] = rng.Digit()
	}
}
