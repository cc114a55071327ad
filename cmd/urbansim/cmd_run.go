package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/entropy"
	"github.com/talgya/urbansim/internal/persistence"
	"github.com/talgya/urbansim/internal/runner"
	"github.com/talgya/urbansim/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation for one city",
		Long: `Run a simulation for one city profile and store its checkpoints.

Examples:
  urbansim run --city leipzig
  urbansim run --city berlin --timesteps 100 --seed 7
  urbansim run --city munich --policy rent_control --policy transit_investment
  urbansim run --city leipzig --no-store --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			city, _ := cmd.Flags().GetString("city")
			timesteps, _ := cmd.Flags().GetInt("timesteps")
			seed, _ := cmd.Flags().GetInt64("seed")
			policies, _ := cmd.Flags().GetStringSlice("policy")
			noStore, _ := cmd.Flags().GetBool("no-store")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Setup(ctx, "urbansim", s.env.OTelEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer shutdown(context.WithoutCancel(ctx))

			m := &runner.Manager{
				Config:  s.cfg,
				Logger:  s.logger,
				Entropy: entropy.NewClient(s.env.RandomOrgKey),
			}
			if !noStore {
				db, err := persistence.Open(s.env.DBPath)
				if err != nil {
					return err
				}
				defer db.Close()
				m.Store = db.WithLogger(s.logger)
			}

			req := runner.Request{City: city, Timesteps: timesteps, Seed: seed}
			if len(policies) > 0 {
				req.Policies = make(map[string]bool, len(policies))
				for _, p := range policies {
					req.Policies[p] = true
				}
			}

			res, runErr := m.Run(ctx, req)
			if res.RunID != "" {
				if s.jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					printResult(cmd.OutOrStdout(), res)
				}
			}
			return runErr
		},
	}

	cmd.Flags().String("city", "leipzig", "City profile key (see 'urbansim cities')")
	cmd.Flags().Int("timesteps", 0, "Timesteps to run (0 uses engine.timesteps)")
	cmd.Flags().Int64("seed", 0, "Random seed (0 uses engine.seed or URBANSIM_SEED, then a fresh seed)")
	cmd.Flags().StringSlice("policy", nil, "Enable a policy flag (repeatable)")
	cmd.Flags().Bool("no-store", false, "Do not write results to the database")
	return cmd
}

func printResult(w io.Writer, res runner.Result) {
	fmt.Fprintf(w, "run %s (%s) %s in %s\n", res.RunID, res.City, res.Status, res.Duration.Round(time.Millisecond))
	if res.FailedAt > 0 {
		fmt.Fprintf(w, "  failed at   timestep %d\n", res.FailedAt)
	}
	fmt.Fprintf(w, "  seed        %d\n", res.Seed)
	fmt.Fprintf(w, "  timesteps   %d of %d\n", res.Stats.Timestep, res.Timesteps)
	fmt.Fprintf(w, "  cells       %d\n", res.Stats.Cells)
	fmt.Fprintf(w, "  population  %s\n", humanize.Comma(int64(res.Stats.TotalPopulation)))
	fmt.Fprintf(w, "  avg rent    %s\n", humanize.FormatFloat("#,###.##", res.Stats.AvgRent))
	fmt.Fprintf(w, "  displacement %.3f  safety %.3f  congestion %.3f  gentrification %.3f\n",
		res.Stats.AvgDisplacementRisk, res.Stats.AvgSafety, res.Stats.AvgCongestion, res.Stats.AvgGentrification)
}
