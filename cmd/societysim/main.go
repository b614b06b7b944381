// Command societysim runs the iterated society game.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/config"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("societysim failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "societysim",
		Short: "Evolutionary iterated-game society simulation",
		Long: `societysim pairs agents at random and plays a one-shot cooperation game.
Each agent belongs to one of four societies (Saints, Buddies, Fight Club,
Vandals) and after every round re-derives its society from a genome
indexed by its recent interaction history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "societysim version %s\n", version)
			}
		},
	}
}

// loadConfig layers defaults, the --config file, the environment and any
// flags the user set on cmd, then installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if f := flags.Lookup("agents"); f != nil && f.Changed {
		cfg.Simulation.Agents, _ = flags.GetInt("agents")
	}
	if f := flags.Lookup("seed"); f != nil && f.Changed {
		cfg.Simulation.Seed, _ = flags.GetInt64("seed")
	}
	if f := flags.Lookup("genome"); f != nil && f.Changed {
		cfg.Simulation.Genome, _ = flags.GetString("genome")
	}
	if f := flags.Lookup("steps"); f != nil && f.Changed {
		cfg.Simulation.Steps, _ = flags.GetInt("steps")
	}
	if f := flags.Lookup("db"); f != nil && f.Changed {
		cfg.Storage.Path, _ = flags.GetString("db")
	}
	if f := flags.Lookup("port"); f != nil && f.Changed {
		cfg.API.Port, _ = flags.GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := cfg.SlogLevel()
	setupLogging(os.Stdout, level)
	return cfg, nil
}

func setupLogging(out io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// addPopulationFlags registers the flags shared by run and serve.
func addPopulationFlags(cmd *cobra.Command) {
	cmd.Flags().Int("agents", 0, "Population size (default from config)")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 means unset and draws a fresh crypto/rand seed, which is logged and saved for replay")
	cmd.Flags().String("genome", "", "Genome ownership: "+agents.GenomeShared.String()+" or "+agents.GenomePrivate.String())
	cmd.Flags().String("db", "", "SQLite file for saving the run")
}
