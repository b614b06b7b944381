package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/talgya/societies/internal/society"
)

var (
	// roundsTotal counts every round played across all simulators.
	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "societysim",
		Subsystem: "rounds",
		Name:      "total",
		Help:      "Total rounds played",
	})

	// outcomesTotal counts rounds by cooperation outcome.
	// Labels: outcome (mutual_cooperation, first_exploited, second_exploited, mutual_defection)
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "societysim",
		Subsystem: "rounds",
		Name:      "outcomes_total",
		Help:      "Rounds by cooperation outcome",
	}, []string{"outcome"})

	// payoffTotal sums payoff earned, labelled by the earner's society at the time.
	payoffTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "societysim",
		Subsystem: "agents",
		Name:      "payoff_total",
		Help:      "Payoff earned by society",
	}, []string{"society"})

	// societySwitches counts society transitions.
	// Labels: from, to
	societySwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "societysim",
		Subsystem: "agents",
		Name:      "society_switches_total",
		Help:      "Society transitions after a round",
	}, []string{"from", "to"})

	// societyPopulation is the current head count per society, refreshed with stats.
	societyPopulation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "societysim",
		Subsystem: "agents",
		Name:      "society_population",
		Help:      "Agents currently in each society",
	}, []string{"society"})
)

func recordRoundMetrics(out Outcome) {
	roundsTotal.Inc()
	outcomesTotal.WithLabelValues(out.Kind.String()).Inc()
	payoffTotal.WithLabelValues(out.Before[0].String()).Add(float64(out.Payoff1))
	payoffTotal.WithLabelValues(out.Before[1].String()).Add(float64(out.Payoff2))
	for i := range out.Before {
		if out.Before[i] != out.After[i] {
			societySwitches.WithLabelValues(out.Before[i].String(), out.After[i].String()).Inc()
		}
	}
}

func recordPopulationMetrics(counts map[society.Society]int) {
	for _, s := range society.All {
		societyPopulation.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
