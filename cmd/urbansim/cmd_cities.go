package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/urban"
)

type cityInfo struct {
	Key         string      `json:"key"`
	DisplayName string      `json:"display_name"`
	InitMode    string      `json:"init_mode"`
	GridRadius  int         `json:"grid_radius"`
	Cells       int         `json:"cells"`
	Rent        urban.Range `json:"avg_rent"`
}

func newCitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cities",
		Short: "List the configured city profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			var cities []cityInfo
			for _, key := range s.cfg.CityNames() {
				p := s.cfg.Cities[key]
				radius := s.cfg.Engine.GridRadius
				if p.GridRadius > 0 {
					radius = p.GridRadius
				}
				cities = append(cities, cityInfo{
					Key:         key,
					DisplayName: p.DisplayName,
					InitMode:    p.InitMode,
					GridRadius:  radius,
					Cells:       3*radius*(radius+1) + 1,
					Rent:        p.Initial[urban.AvgRent],
				})
			}

			if s.jsonOut {
				return writeJSON(cmd.OutOrStdout(), cities)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tINIT\tCELLS\tRENT")
			for _, c := range cities {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f-%.0f\n", c.Key, c.DisplayName, c.InitMode, c.Cells, c.Rent.Min, c.Rent.Max)
			}
			return tw.Flush()
		},
	}
}
