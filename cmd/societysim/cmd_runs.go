package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/societies/internal/agents"
	"github.com/talgya/societies/internal/persistence"
	"github.com/talgya/societies/internal/society"
)

var errNoDatabase = errors.New("no database configured: pass --db or set storage.path")

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Path == "" {
				return errNoDatabase
			}
			limit, _ := cmd.Flags().GetInt("limit")
			jsonOut, _ := cmd.Flags().GetBool("json")

			db, err := persistence.Open(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			runs, err := db.ListRuns(limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if runs == nil {
					runs = []persistence.RunRecord{}
				}
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No saved runs.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  seed=%d  agents=%d  genome=%s  steps=%s  updated %s\n",
					r.ID, r.Seed, r.Agents, r.Genome,
					humanize.Comma(r.Steps), humanize.Time(time.Unix(r.UpdatedAt, 0)))
			}
			return nil
		},
	}
	cmd.PersistentFlags().String("db", "", "SQLite file holding saved runs")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

// runDetail is a saved run as printed by "runs show".
type runDetail struct {
	Run       persistence.RunRecord  `json:"run"`
	Societies map[string]int         `json:"societies"`
	Genes     map[string]int         `json:"genes"`
	Agents    []persistence.AgentRow `json:"agents"`
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved run: its population and genome make-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Path == "" {
				return errNoDatabase
			}
			top, _ := cmd.Flags().GetInt("top")
			jsonOut, _ := cmd.Flags().GetBool("json")

			db, err := persistence.Open(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			detail, err := loadRunDetail(db, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(detail)
			}
			writeRunDetail(out, detail, top)
			return nil
		},
	}
	cmd.Flags().Int("top", 10, "Number of fittest agents to list")
	return cmd
}

// loadRunDetail reads a run, its agents and the gene counts of every
// genome the population carries.
func loadRunDetail(db *persistence.DB, id string) (runDetail, error) {
	run, ok, err := db.LoadRun(id)
	if err != nil {
		return runDetail{}, fmt.Errorf("load run: %w", err)
	}
	if !ok {
		return runDetail{}, fmt.Errorf("run %s not found", id)
	}
	rows, err := db.LoadAgents(id)
	if err != nil {
		return runDetail{}, fmt.Errorf("load agents: %w", err)
	}

	mode, err := agents.ParseGenomeMode(run.Genome)
	if err != nil {
		return runDetail{}, err
	}
	owners := []int64{persistence.SharedOwner}
	if mode == agents.GenomePrivate {
		owners = owners[:0]
		for _, r := range rows {
			owners = append(owners, r.AgentID)
		}
	}

	var genes [society.AlphabetSize]int
	for _, owner := range owners {
		c, ok, err := db.LoadChromosome(id, owner)
		if err != nil {
			return runDetail{}, fmt.Errorf("load genome: %w", err)
		}
		if !ok {
			return runDetail{}, fmt.Errorf("run %s: genome for owner %d missing", id, owner)
		}
		dist := c.Distribution()
		for i, n := range dist {
			genes[i] += n
		}
	}

	detail := runDetail{
		Run:       run,
		Societies: make(map[string]int, society.AlphabetSize),
		Genes:     make(map[string]int, society.AlphabetSize),
		Agents:    rows,
	}
	for _, s := range society.All {
		detail.Societies[s.String()] = 0
		detail.Genes[s.String()] = genes[s]
	}
	for _, r := range rows {
		detail.Societies[society.Society(r.Society).String()]++
	}
	return detail, nil
}

func writeRunDetail(out io.Writer, d runDetail, top int) {
	r := d.Run
	fmt.Fprintf(out, "run %s\n", r.ID)
	fmt.Fprintf(out, "  seed=%d  agents=%d  genome=%s  steps=%s\n",
		r.Seed, r.Agents, r.Genome, humanize.Comma(r.Steps))
	fmt.Fprintf(out, "  created %s, updated %s\n",
		humanize.Time(time.Unix(r.CreatedAt, 0)), humanize.Time(time.Unix(r.UpdatedAt, 0)))

	fmt.Fprintln(out, "  society     agents  genes")
	for _, s := range society.All {
		fmt.Fprintf(out, "  %-10s  %6d  %s\n", s, d.Societies[s.String()], humanize.Comma(int64(d.Genes[s.String()])))
	}

	ranked := make([]persistence.AgentRow, len(d.Agents))
	copy(ranked, d.Agents)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	if top > len(ranked) {
		top = len(ranked)
	}
	if top > 0 {
		fmt.Fprintf(out, "  top %d by fitness:\n", top)
	}
	for _, a := range ranked[:max(top, 0)] {
		fmt.Fprintf(out, "    agent %-4d %-10s history=%s payoff=%d rounds=%d fitness=%.3f\n",
			a.AgentID, society.Society(a.Society), a.History, a.TotalPayoff, a.RoundsPlayed, a.Fitness)
	}
}
