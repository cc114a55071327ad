package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Validate the effective configuration.

This command checks for:
  - Missing or inverted initial metric ranges in city profiles
  - Non-positive caps, rates, and normalizers
  - Income segment shares that do not sum to 1
  - Unknown neighbor modes, init modes, and module names

Examples:
  urbansim validate
  urbansim validate --config berlin.yaml --city berlin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			city, _ := cmd.Flags().GetString("city")

			var report *config.Report
			if city != "" {
				report = config.ValidateCity(s.cfg, city)
			} else {
				report = config.Validate(s.cfg)
			}

			out := cmd.OutOrStdout()
			if s.jsonOut {
				if err := writeJSON(out, report); err != nil {
					return err
				}
				return report.Err()
			}

			for _, r := range report.Errors {
				fmt.Fprintf(out, "ERROR   %s\n", r)
			}
			for _, r := range report.Warnings {
				fmt.Fprintf(out, "WARNING %s\n", r)
			}
			if report.Valid {
				fmt.Fprintf(out, "configuration valid (%s)\n", report.Summary)
			}
			return report.Err()
		},
	}
	cmd.Flags().String("city", "", "Validate only this city profile")
	return cmd
}
