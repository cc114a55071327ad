// Command urbansim runs hex-grid urban dynamics simulations and serves
// their stored results.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "urbansim",
		Short: "Urban dynamics simulator on a hex grid",
		Long: `urbansim simulates rent, displacement, and neighborhood change across a
hexagonal city grid, one timestep at a time.

Each cell carries housing, transport, safety, and demographic metrics that a
fixed set of update modules advance every timestep. Checkpoints are stored
in SQLite and can be browsed with 'urbansim runs' or served over HTTP with
'urbansim serve'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML file layered over the defaults (env URBANSIM_CONFIG)")
	rootCmd.PersistentFlags().String("db", "", "SQLite results database (env URBANSIM_DB_PATH)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn, or error (env URBANSIM_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newCitiesCmd(),
		newRunsCmd(),
		newServeCmd(),
		newConfigCmd(),
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
				fmt.Fprintf(cmd.OutOrStdout(), "urbansim version %s\n", version)
			}
		},
	}
}

// settings is what every subcommand needs: environment, configuration, and
// a logger. Flags win over the environment.
type settings struct {
	env     config.Env
	cfg     *config.Config
	logger  *slog.Logger
	jsonOut bool
}

func loadSettings(cmd *cobra.Command) (*settings, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		env.ConfigPath = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		env.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		env.LogLevel = v
	}

	logger := logging.NewLogger(env.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return nil, err
	}
	if env.Seed != 0 {
		cfg.Engine.Seed = env.Seed
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	return &settings{env: env, cfg: cfg, logger: logger, jsonOut: jsonOut}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
