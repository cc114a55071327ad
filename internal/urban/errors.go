package urban

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine, runner, and persistence layers.
var (
	// ErrConfiguration marks a missing or invalid city profile or module
	// parameter. Raised before any timestep runs.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariant marks a metric that left its declared range and could not
	// be repaired by clamping.
	ErrInvariant = errors.New("invariant violation")

	// ErrPersistence marks a checkpoint the sink could not accept.
	ErrPersistence = errors.New("persistence error")

	// ErrSnapshotExists is returned when a snapshot for a timestep already
	// exists and the cell has been written since.
	ErrSnapshotExists = errors.New("snapshot already recorded for timestep")

	// ErrSnapshotOrder is returned when a snapshot is requested for a
	// timestep older than the latest recorded one.
	ErrSnapshotOrder = errors.New("snapshot timestep out of order")
)

// InvariantError reports a metric value that cannot be clamped into range,
// such as NaN from an undefined ratio. It matches both ErrInvariant and
// ErrConfiguration.
type InvariantError struct {
	GridID string
	Module string
	Metric string
	Value  float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("cell %s: %s after %s is %v", e.GridID, e.Metric, e.Module, e.Value)
}

func (e *InvariantError) Unwrap() []error {
	return []error{ErrInvariant, ErrConfiguration}
}
