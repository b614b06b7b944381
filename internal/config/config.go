// Package config provides configuration loading for the society simulator.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/societies/internal/agents"
)

// Config contains all simulator settings.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Engine     EngineConfig     `yaml:"engine"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Visual     VisualConfig     `yaml:"visual"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig configures the population and run length.
type SimulationConfig struct {
	// Agents is the population size. Must be at least 2.
	Agents int `yaml:"agents"`

	// Seed for the random stream. Zero means unset: a seed is drawn from
	// crypto/rand and recorded, and zero itself is never used as a seed.
	Seed int64 `yaml:"seed"`

	// Genome is "shared" (one genome for everyone) or "private" (one per agent).
	Genome string `yaml:"genome"`

	// Steps is the number of rounds for the run command.
	Steps int `yaml:"steps"`
}

// EngineConfig configures the paced loop used by serve.
type EngineConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Speed       float64       `yaml:"speed"`
	ReportEvery uint64        `yaml:"report_every"`
	SaveEvery   uint64        `yaml:"save_every"`
}

// StorageConfig configures SQLite persistence. An empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`

	// AdminKey is the bearer token for POST endpoints. Empty disables them.
	AdminKey string `yaml:"admin_key,omitempty"`

	// RateLimit is the per-client request rate (per second) for the stream
	// and admin endpoints.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// CORSOrigins lists browser origins allowed to call the API. "*" allows
	// any origin; empty sends no CORS headers.
	CORSOrigins []string `yaml:"cors_origins"`
}

// VisualConfig configures the terminal renderer.
type VisualConfig struct {
	// Every renders one frame per this many updates.
	Every int `yaml:"every"`
}

// LoggingConfig configures log verbosity: "debug", "info", "warn" or "error".
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Agents: 100,
			Genome: "shared",
			Steps:  10000,
		},
		Engine: EngineConfig{
			Interval:    time.Millisecond,
			Speed:       1.0,
			ReportEvery: 1000,
			SaveEvery:   10000,
		},
		API: APIConfig{
			Port:      8080,
			RateLimit: 1,
			RateBurst: 5,
		},
		Visual: VisualConfig{
			Every: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables. The result is not
// validated; callers apply any flag overrides and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from SOCIETYSIM_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	if v := os.Getenv("SOCIETYSIM_AGENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOCIETYSIM_AGENTS: %w", err))
		} else {
			c.Simulation.Agents = n
		}
	}
	if v := os.Getenv("SOCIETYSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOCIETYSIM_SEED: %w", err))
		} else {
			c.Simulation.Seed = n
		}
	}
	if v := os.Getenv("SOCIETYSIM_GENOME"); v != "" {
		c.Simulation.Genome = v
	}
	if v := os.Getenv("SOCIETYSIM_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SOCIETYSIM_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOCIETYSIM_PORT: %w", err))
		} else {
			c.API.Port = n
		}
	}
	if v := os.Getenv("SOCIETYSIM_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("SOCIETYSIM_CORS_ORIGINS"); v != "" {
		c.API.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.API.CORSOrigins = append(c.API.CORSOrigins, origin)
			}
		}
	}
	if v := os.Getenv("SOCIETYSIM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Simulation.Agents < 2 {
		return fmt.Errorf("simulation.agents must be at least 2, got %d", c.Simulation.Agents)
	}
	if c.Simulation.Steps < 0 {
		return fmt.Errorf("simulation.steps must not be negative, got %d", c.Simulation.Steps)
	}
	if _, err := c.GenomeMode(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Visual.Every < 1 {
		return fmt.Errorf("visual.every must be at least 1, got %d", c.Visual.Every)
	}
	return nil
}

// GenomeMode parses Simulation.Genome.
func (c *Config) GenomeMode() (agents.GenomeMode, error) {
	return agents.ParseGenomeMode(c.Simulation.Genome)
}

// SlogLevel parses Logging.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
}

// RedactedAdminKey masks the admin key for logging.
func (c APIConfig) RedactedAdminKey() string {
	if c.AdminKey == "" {
		return ""
	}
	return "(set)"
}
