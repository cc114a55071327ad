package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings read from the environment. Flags on the
// command line take precedence over these.
type Env struct {
	ConfigPath   string   `env:"URBANSIM_CONFIG"`
	DBPath       string   `env:"URBANSIM_DB_PATH" envDefault:"urbansim.db"`
	LogLevel     string   `env:"URBANSIM_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string   `env:"URBANSIM_OTEL_ENDPOINT"`
	APIPort      int      `env:"URBANSIM_API_PORT" envDefault:"8080"`
	Seed         int64    `env:"URBANSIM_SEED"` // overrides engine.seed when non-zero
	RandomOrgKey string   `env:"URBANSIM_RANDOM_ORG_KEY"`
	CORSOrigins  []string `env:"URBANSIM_CORS_ORIGINS" envSeparator:","`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads the URBANSIM_* variables.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
