package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/persistence"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored simulation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			db, err := persistence.Open(s.env.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs stored")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCITY\tSTATUS\tTIMESTEPS\tSEED\tCREATED")
			for _, r := range runs {
				status := r.Status
				if r.FailedTimestep != nil {
					status = fmt.Sprintf("%s@%d", status, *r.FailedTimestep)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.RunID, r.CityName, status, r.TotalTimesteps, r.Seed, since(r.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run and its per-checkpoint summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			db, err := persistence.Open(s.env.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			run, err := db.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			summary, err := db.Summary(ctx, run.RunID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if s.jsonOut {
				return writeJSON(out, map[string]any{"run": run, "summary": summary})
			}

			fmt.Fprintf(out, "run %s (%s) %s, seed %d, created %s\n",
				run.RunID, run.CityName, run.Status, run.Seed, since(run.CreatedAt))
			if run.Error != nil {
				fmt.Fprintf(out, "error: %s\n", *run.Error)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "T\tCELLS\tPOPULATION\tRENT\tDISPLACEMENT\tSAFETY\tCONGESTION\tGENTRIFICATION")
			for _, row := range summary {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%.3f\t%.3f\t%.3f\t%.3f\n",
					row.Timestep, row.Cells,
					humanize.Comma(int64(row.TotalPopulation)),
					humanize.FormatFloat("#,###.##", row.AvgRent),
					row.AvgDisplacementRisk, row.AvgSafety, row.AvgCongestion, row.AvgGentrification)
			}
			return tw.Flush()
		},
	}
}

func since(stamp string) string {
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return humanize.Time(t)
}
