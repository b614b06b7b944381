package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/societies/internal/config"
	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/persistence"
	"github.com/talgya/societies/internal/society"
	"github.com/talgya/societies/internal/visual"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play a fixed number of rounds and print the final population",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			showVisual, _ := cmd.Flags().GetBool("visual")
			return runSimulation(cmd.OutOrStdout(), cfg, showVisual)
		},
	}
	addPopulationFlags(cmd)
	cmd.Flags().Int("steps", 0, "Number of rounds to play (default from config)")
	cmd.Flags().Bool("visual", false, "Render the population grid in the terminal")
	return cmd
}

// runSimulation builds a population from cfg, plays cfg.Simulation.Steps
// rounds and writes a summary to out. A chromosome error stops the run
// and is returned after the partial state is reported and saved.
func runSimulation(out io.Writer, cfg *config.Config, showVisual bool) error {
	mode, err := cfg.GenomeMode()
	if err != nil {
		return err
	}
	seed := entropy.ResolveSeed(cfg.Simulation.Seed)
	slog.Info("random seed", "seed", seed)

	simCfg := engine.Config{
		Agents:   cfg.Simulation.Agents,
		Headless: !showVisual,
		Genome:   mode,
	}
	var vis engine.Visualizer
	if showVisual {
		term := visual.NewTerminal(out, cfg.Visual.Every)
		term.Clear = true
		vis = term
	}

	sim, err := engine.NewSimulator(simCfg, entropy.NewSource(seed), vis)
	if err != nil {
		return err
	}

	runErr := sim.Run(cfg.Simulation.Steps)
	if runErr != nil {
		slog.Error("run stopped", "step", sim.CurrentStep(), "error", runErr)
	}
	sim.Report()

	if cfg.Storage.Path != "" {
		run := persistence.NewRun(seed, cfg.Simulation.Agents, mode)
		if err := saveRun(cfg.Storage.Path, run, sim); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		fmt.Fprintf(out, "saved run %s to %s\n", run.ID, cfg.Storage.Path)
	}

	writeSummary(out, sim.Stats)
	return runErr
}

func saveRun(path string, run persistence.RunRecord, sim *engine.Simulator) error {
	db, err := persistence.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveRunState(run, sim); err != nil {
		return err
	}
	if err := db.SaveStats(run.ID, sim.Stats); err != nil {
		return err
	}
	return db.SaveEvents(run.ID, sim.DrainEvents())
}

func writeSummary(out io.Writer, st engine.SimStats) {
	fmt.Fprintf(out, "%s rounds, %d agents, cooperation rate %.1f%%, avg fitness %.3f\n",
		humanize.Comma(int64(st.Step)), st.Population, st.CooperationRate()*100, st.AvgFitness)
	for _, s := range society.All {
		fmt.Fprintf(out, "  %-10s %d\n", s, st.SocietyCounts[s])
	}
}
