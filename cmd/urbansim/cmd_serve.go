package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/api"
	"github.com/talgya/urbansim/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over a read-only HTTP API",
		Long: `Serve stored runs over a read-only HTTP API.

Endpoints:
  GET /api/v1/runs
  GET /api/v1/runs/{id}
  GET /api/v1/runs/{id}/timesteps
  GET /api/v1/runs/{id}/states?timestep=N
  GET /api/v1/runs/{id}/summary
  GET /api/v1/grid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				s.env.APIPort = port
			}

			db, err := persistence.Open(s.env.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &api.Server{
				Store:       db,
				Port:        s.env.APIPort,
				CORSOrigins: s.env.CORSOrigins,
				Logger:      s.logger,
			}
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (0 uses URBANSIM_API_PORT)")
	return cmd
}
