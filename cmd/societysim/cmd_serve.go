package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/societies/internal/api"
	"github.com/talgya/societies/internal/config"
	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/entropy"
	"github.com/talgya/societies/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation continuously behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			maxTicks, _ := cmd.Flags().GetUint64("max-ticks")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, maxTicks)
		},
	}
	addPopulationFlags(cmd)
	cmd.Flags().Int("port", 0, "HTTP port (default from config)")
	cmd.Flags().Uint64("max-ticks", 0, "Stop after this many rounds; 0 runs until interrupted")
	return cmd
}

// serve drives the simulator from the engine loop. The engine goroutine is
// the only writer of simulator state; the API server receives copies as
// the simulator's visualizer.
func serve(ctx context.Context, cfg *config.Config, maxTicks uint64) error {
	mode, err := cfg.GenomeMode()
	if err != nil {
		return err
	}
	seed := entropy.ResolveSeed(cfg.Simulation.Seed)
	run := persistence.NewRun(seed, cfg.Simulation.Agents, mode)
	slog.Info("starting society simulation", "run", run.ID, "seed", seed, "agents", cfg.Simulation.Agents, "genome", mode)

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("SOCIETYSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	slog.Info("api settings",
		"port", cfg.API.Port,
		"admin_key", cfg.API.RedactedAdminKey(),
		"cors_origins", cfg.API.CORSOrigins,
		"rate_limit", cfg.API.RateLimit,
	)
	srv := &api.Server{
		RunID:          run.ID,
		Port:           cfg.API.Port,
		AdminKey:       cfg.API.AdminKey,
		AllowedOrigins: cfg.API.CORSOrigins,
		Limiter:        api.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateBurst),
	}

	sim, err := engine.NewSimulator(engine.Config{
		Agents: cfg.Simulation.Agents,
		Genome: mode,
	}, entropy.NewSource(seed), srv)
	if err != nil {
		return err
	}
	srv.PublishStats(sim.Stats)

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Storage.Path != "" {
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		srv.DB = db
		if err := db.SaveRunState(run, sim); err != nil {
			return fmt.Errorf("initial save: %w", err)
		}
	} else {
		slog.Warn("no storage path configured, run will not be saved")
	}

	save := func() {
		if db == nil {
			return
		}
		if err := db.SaveRunState(run, sim); err != nil {
			slog.Error("save failed", "error", err)
		}
		if err := db.SaveEvents(run.ID, sim.DrainEvents()); err != nil {
			slog.Error("event save failed", "error", err)
		}
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.Engine.Interval
	eng.MaxTicks = maxTicks
	eng.ReportEvery = cfg.Engine.ReportEvery
	eng.SaveEvery = cfg.Engine.SaveEvery
	eng.SetSpeed(cfg.Engine.Speed)
	srv.Eng = eng

	eng.OnTick = func(tick uint64) error {
		if err := sim.Step(); err != nil {
			return err
		}
		if srv.TakeSnapshotRequest() {
			save()
		}
		return nil
	}
	eng.OnReport = func(tick uint64) {
		sim.Report()
		srv.PublishStats(sim.Stats)
		if db != nil {
			if err := db.SaveStats(run.ID, sim.Stats); err != nil {
				slog.Error("stats save failed", "error", err)
			}
		}
	}
	eng.OnSave = func(tick uint64) { save() }

	srv.Start(ctx)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runErr := eng.Run(ctx)
	if runErr != nil {
		slog.Error("engine stopped", "step", sim.CurrentStep(), "error", runErr)
	}

	// Final save on shutdown.
	sim.Report()
	if db != nil {
		slog.Info("final save...")
		save()
		if err := db.SaveStats(run.ID, sim.Stats); err != nil {
			slog.Error("stats save failed", "error", err)
		}
	}
	return runErr
}
