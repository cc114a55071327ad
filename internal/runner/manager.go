// Package runner turns a run request into a finished simulation: it builds
// the grid and initial cells for a city, records the run, drives the model,
// and records the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/engine"
	"github.com/talgya/urbansim/internal/entropy"
	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

// Store records runs and receives their checkpoints.
type Store interface {
	engine.Sink
	CreateRun(ctx context.Context, runID, city string, timesteps int, seed int64, config any) error
	MarkRunning(ctx context.Context, runID string) error
	MarkCompleted(ctx context.Context, runID string) error
	MarkFailed(ctx context.Context, runID string, timestep int, runErr error) error
	SaveGrid(ctx context.Context, cells []world.GridCell) error
}

// Request describes one run.
type Request struct {
	City      string
	Timesteps int             // 0 uses engine.timesteps
	Seed      int64           // 0 uses engine.seed, then a fresh seed
	Policies  map[string]bool // overrides of the policy flags
}

// Result is the outcome of a run.
type Result struct {
	RunID     string        `json:"run_id"`
	City      string        `json:"city"`
	Seed      int64         `json:"seed"`
	Status    engine.Status `json:"status"`
	Timesteps int           `json:"timesteps"`
	FailedAt  int           `json:"failed_at,omitempty"`
	Stats     engine.Stats  `json:"stats"`
	Duration  time.Duration `json:"duration"`
}

// Manager runs simulations against one configuration. Store may be nil, in
// which case checkpoints are discarded.
type Manager struct {
	Config  *config.Config
	Store   Store
	Logger  *slog.Logger
	Entropy *entropy.Client

	// MaxTries bounds the retries of each run-record write. Zero means 5.
	MaxTries uint
	// RetryInterval is the first backoff interval. Zero means 200ms.
	RetryInterval time.Duration
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Run executes one simulation. Configuration problems are reported before
// any run record is written. Once the record exists, every failure path
// marks it failed, and the Result is returned alongside the error.
func (m *Manager) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	cfg := m.Config.Clone()
	for name, on := range req.Policies {
		if err := cfg.Policy.SetFlag(name, on); err != nil {
			return Result{}, err
		}
	}
	if req.Timesteps > 0 {
		cfg.Engine.Timesteps = req.Timesteps
	}

	city, err := cfg.City(req.City)
	if err != nil {
		return Result{}, err
	}
	if err := config.Validate(cfg).Err(); err != nil {
		return Result{}, err
	}

	seed := m.pickSeed(ctx, req.Seed, cfg.Engine.Seed)
	cfg.Engine.Seed = seed

	radius := cfg.Engine.GridRadius
	if city.GridRadius > 0 {
		radius = city.GridRadius
	}
	grid, err := world.NewHexGrid(radius, cfg.Engine.CellSize)
	if err != nil {
		return Result{}, fmt.Errorf("build grid: %w", err)
	}
	adj := world.BuildAdjacency(grid.Cells)

	cells, err := InitCells(cfg, city, grid, seed)
	if err != nil {
		return Result{}, err
	}
	modules, err := engine.NewModuleSet(cfg)
	if err != nil {
		return Result{}, err
	}

	runID := uuid.NewString()
	logger := m.logger().With("run_id", runID, "city", req.City)
	opts := engine.OptionsFromConfig(runID, seed, cfg)
	opts.Logger = logger

	var sink engine.Sink
	if m.Store != nil {
		sink = m.Store
	}
	model, err := engine.NewModel(opts, cells, adj, modules, sink)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		RunID:     runID,
		City:      req.City,
		Seed:      seed,
		Status:    engine.StatusCreated,
		Timesteps: cfg.Engine.Timesteps,
	}

	if m.Store != nil {
		if err := m.retry(ctx, "create run", func() error {
			return m.Store.CreateRun(ctx, runID, req.City, cfg.Engine.Timesteps, seed, cfg)
		}); err != nil {
			return result, err
		}
		if err := m.retry(ctx, "save grid", func() error {
			return m.Store.SaveGrid(ctx, grid.Cells)
		}); err != nil {
			return result, m.recordFailure(ctx, &result, 0, err)
		}
		if err := m.retry(ctx, "mark running", func() error {
			return m.Store.MarkRunning(ctx, runID)
		}); err != nil {
			return result, m.recordFailure(ctx, &result, 0, err)
		}
	}

	logger.Info("simulation starting",
		"cells", grid.CellCount(),
		"radius", radius,
		"init_mode", city.InitMode,
		"policies", cfg.Policy.Flags(),
	)

	runErr := model.Run(ctx, cfg.Engine.Timesteps)
	result.Stats = model.Stats()
	result.Duration = time.Since(start)
	if runErr != nil {
		return result, m.recordFailure(ctx, &result, model.FailedAt(), runErr)
	}

	result.Status = engine.StatusCompleted
	if m.Store != nil {
		if err := m.retry(ctx, "mark completed", func() error {
			return m.Store.MarkCompleted(ctx, runID)
		}); err != nil {
			// The model finished but its record did not; the run still ends Failed.
			return result, m.recordFailure(ctx, &result, cfg.Engine.Timesteps, err)
		}
	}
	return result, nil
}

// recordFailure marks the run failed in the store and returns runErr, joined
// with the store error if the failure could not be recorded.
func (m *Manager) recordFailure(ctx context.Context, result *Result, at int, runErr error) error {
	result.Status = engine.StatusFailed
	result.FailedAt = at
	if m.Store == nil {
		return runErr
	}
	// The run context may be what failed the run; the record still goes in.
	ctx = context.WithoutCancel(ctx)
	if err := m.retry(ctx, "mark failed", func() error {
		return m.Store.MarkFailed(ctx, result.RunID, at, runErr)
	}); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (m *Manager) pickSeed(ctx context.Context, requested, configured int64) int64 {
	switch {
	case requested != 0:
		return requested
	case configured != 0:
		return configured
	default:
		return entropy.SeedFromSource(ctx, m.Entropy)
	}
}

// retry runs a run-record write with exponential backoff. Invalid status
// transitions are not retried.
func (m *Manager) retry(ctx context.Context, op string, fn func() error) error {
	tries := m.MaxTries
	if tries == 0 {
		tries = 5
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	if m.RetryInterval > 0 {
		b.InitialInterval = m.RetryInterval
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if errors.Is(err, engine.ErrInvalidTransition) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			m.logger().Warn("run record write failed", "op", op, "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, urban.ErrPersistence, err)
	}
	return nil
}
