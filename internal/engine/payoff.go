package engine

import (
	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/society"
)

// Payoff matrix values.
const (
	PayoffReward     = 4 // Both cooperate
	PayoffSucker     = 0 // Cooperated against a defector
	PayoffTemptation = 6 // Defected against a cooperator
	PayoffPunishment = 1 // Both defect
)

// OutcomeKind classifies a round by who cooperated.
type OutcomeKind uint8

const (
	MutualCooperation OutcomeKind = iota
	FirstExploited                // agent1 cooperated, agent2 defected
	SecondExploited               // agent1 defected, agent2 cooperated
	MutualDefection
)

var outcomeNames = [...]string{"mutual_cooperation", "first_exploited", "second_exploited", "mutual_defection"}

func (k OutcomeKind) String() string {
	if int(k) < len(outcomeNames) {
		return outcomeNames[k]
	}
	return "unknown"
}

// Payoffs returns the scores for agent1 and agent2 given whether each
// cooperates with the other.
func Payoffs(c1, c2 bool) (p1, p2 int, kind OutcomeKind) {
	switch {
	case c1 && c2:
		return PayoffReward, PayoffReward, MutualCooperation
	case c1 && !c2:
		return PayoffSucker, PayoffTemptation, FirstExploited
	case !c1 && c2:
		return PayoffTemptation, PayoffSucker, SecondExploited
	default:
		return PayoffPunishment, PayoffPunishment, MutualDefection
	}
}

// Outcome records what happened in one round.
type Outcome struct {
	Kind    OutcomeKind
	Payoff1 int
	Payoff2 int
	Before  [2]society.Society
	After   [2]society.Society
}

// PlayRound plays one round between a1 and a2: score both, record the
// interaction in both histories, then let both re-derive their society from
// the updated history. Both histories are updated before either society
// changes.
func PlayRound(a1, a2 *agents.Agent) (Outcome, error) {
	out := Outcome{Before: [2]society.Society{a1.Society, a2.Society}}

	c1 := a1.CooperatesWith(a2)
	c2 := a2.CooperatesWith(a1)
	out.Payoff1, out.Payoff2, out.Kind = Payoffs(c1, c2)

	a1.UpdateScore(out.Payoff1)
	a2.UpdateScore(out.Payoff2)

	a1.UpdateHistory(a2)
	a2.UpdateHistory(a1)

	if err := a1.ChangeSociety(a2); err != nil {
		return out, err
	}
	if err := a2.ChangeSociety(a1); err != nil {
		return out, err
	}

	out.After = [2]society.Society{a1.Society, a2.Society}
	return out, nil
}
