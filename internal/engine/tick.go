// Package engine provides the timestep loop and the update modules that
// drive each cell.
package engine

import (
	"context"
	"fmt"
)

// Clock drives the timestep counter and fires the cadence callbacks.
type Clock struct {
	Timestep        int // last completed timestep (monotonic, never resets)
	Total           int
	CheckpointEvery int

	// Callbacks, populated during setup.
	BeforeStep   func(ctx context.Context, t int) error // every timestep, before any cell is touched
	OnStep       func(ctx context.Context, t int) error // every timestep
	OnCheckpoint func(ctx context.Context, t int) error // every CheckpointEvery timesteps and the last one
}

// Run advances until Total timesteps are done or a callback fails. The
// returned error carries the timestep it happened at.
func (k *Clock) Run(ctx context.Context) error {
	for k.Timestep < k.Total {
		if err := k.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// step advances the clock by one timestep.
func (k *Clock) step(ctx context.Context) error {
	t := k.Timestep + 1

	if k.BeforeStep != nil {
		if err := k.BeforeStep(ctx, t); err != nil {
			return &StepError{Timestep: t, Err: err}
		}
	}

	if k.OnStep != nil {
		if err := k.OnStep(ctx, t); err != nil {
			return &StepError{Timestep: t, Err: err}
		}
	}
	k.Timestep = t

	if k.IsCheckpoint(t) && k.OnCheckpoint != nil {
		if err := k.OnCheckpoint(ctx, t); err != nil {
			return &StepError{Timestep: t, Err: err}
		}
	}
	return nil
}

// IsCheckpoint reports whether timestep t is written to the sink.
func (k *Clock) IsCheckpoint(t int) bool {
	if t == k.Total {
		return true
	}
	return k.CheckpointEvery > 0 && t%k.CheckpointEvery == 0
}

// StepError records the timestep at which a run stopped.
type StepError struct {
	Timestep int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("timestep %d: %v", e.Timestep, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
