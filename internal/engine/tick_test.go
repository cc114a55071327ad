package engine

import (
	"context"
	"errors"
	"testing"
)

func TestClockCallbacks(t *testing.T) {
	var steps, checkpoints []int
	k := &Clock{
		Total:           7,
		CheckpointEvery: 3,
		OnStep: func(_ context.Context, t int) error {
			steps = append(steps, t)
			return nil
		},
		OnCheckpoint: func(_ context.Context, t int) error {
			checkpoints = append(checkpoints, t)
			return nil
		},
	}
	if err := k.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(steps) != 7 || steps[0] != 1 || steps[6] != 7 {
		t.Errorf("steps = %v", steps)
	}
	want := []int{3, 6, 7}
	if len(checkpoints) != len(want) {
		t.Fatalf("checkpoints = %v, want %v", checkpoints, want)
	}
	for i := range want {
		if checkpoints[i] != want[i] {
			t.Errorf("checkpoints = %v, want %v", checkpoints, want)
		}
	}
	if k.Timestep != 7 {
		t.Errorf("Timestep = %d, want 7", k.Timestep)
	}
}

func TestClockStopsAtFailingStep(t *testing.T) {
	boom := errors.New("boom")
	k := &Clock{
		Total:           10,
		CheckpointEvery: 1,
		OnStep: func(_ context.Context, t int) error {
			if t == 4 {
				return boom
			}
			return nil
		},
	}
	err := k.Run(context.Background())
	var se *StepError
	if !errors.As(err, &se) || se.Timestep != 4 || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v", err)
	}
	if k.Timestep != 3 {
		t.Errorf("Timestep = %d, want 3", k.Timestep)
	}
}
