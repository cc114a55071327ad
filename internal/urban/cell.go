package urban

import (
	"fmt"
	"math"

	"github.com/talgya/urbansim/internal/world"
)

// View is read-only access to a cell's metrics.
type View interface {
	ID() string
	Get(metric string) float64
}

// Cell is the state container for one spatial partition of the city.
// It is owned by a single Model for the duration of a run.
type Cell struct {
	id       string
	polygon  world.Polygon
	areaSqKm float64

	metrics  Metrics
	previous Metrics  // baseline captured by BeginTimestep
	segments []string // income segment names, in configuration order

	history []Snapshot
	dirty   bool // written since the last snapshot
}

// NewCell creates a cell. Every initial metric comes from the caller; the
// cell declares no defaults of its own.
func NewCell(id string, polygon world.Polygon, areaSqKm float64, initial Metrics) *Cell {
	m := initial.Clone()
	if m == nil {
		m = Metrics{}
	}
	return &Cell{
		id:       id,
		polygon:  polygon,
		areaSqKm: areaSqKm,
		metrics:  m,
		previous: m.Clone(),
		dirty:    true,
	}
}

// ID returns the grid id.
func (c *Cell) ID() string { return c.id }

// Polygon returns the cell outline. It is used only to derive adjacency.
func (c *Cell) Polygon() world.Polygon { return c.polygon }

// AreaSqKm returns the cell area in square kilometres.
func (c *Cell) AreaSqKm() float64 { return c.areaSqKm }

// Get returns a metric value, or 0 if the metric is unset.
func (c *Cell) Get(metric string) float64 {
	return c.metrics[metric]
}

// Has reports whether the metric is set.
func (c *Cell) Has(metric string) bool {
	_, ok := c.metrics[metric]
	return ok
}

// Set writes a metric value in place.
func (c *Cell) Set(metric string, v float64) {
	c.metrics[metric] = v
	c.dirty = true
}

// Add adds delta to a metric in place.
func (c *Cell) Add(metric string, delta float64) {
	c.Set(metric, c.metrics[metric]+delta)
}

// Metrics returns a copy of the current metrics.
func (c *Cell) Metrics() Metrics {
	return c.metrics.Clone()
}

// Freeze returns a read-only copy of the current metrics.
func (c *Cell) Freeze() View {
	return Frozen{id: c.id, metrics: c.metrics.Clone()}
}

// BeginTimestep records the start-of-timestep baseline returned by Previous.
func (c *Cell) BeginTimestep() {
	c.previous = c.metrics.Clone()
}

// Previous returns a metric's value at the start of the current timestep.
func (c *Cell) Previous(metric string) float64 {
	return c.previous[metric]
}

// Segments returns the income segment names seeded on this cell.
func (c *Cell) Segments() []string {
	return append([]string(nil), c.segments...)
}

// SeedSegments splits the current population across segments by share.
// Shares are normalized, so they need not sum to exactly one.
func (c *Cell) SeedSegments(names []string, shares []float64) error {
	if len(names) != len(shares) {
		return fmt.Errorf("%w: %d segment names but %d shares", ErrConfiguration, len(names), len(shares))
	}
	total := 0.0
	for _, s := range shares {
		total += s
	}
	if total <= 0 {
		return fmt.Errorf("%w: segment shares sum to %v", ErrConfiguration, total)
	}
	pop := c.metrics[Population]
	c.segments = append([]string(nil), names...)
	for i, name := range names {
		c.Set(SegmentMetric(name), pop*shares[i]/total)
	}
	return nil
}

// SegmentTotal returns the sum of segment populations.
func (c *Cell) SegmentTotal() float64 {
	total := 0.0
	for _, s := range c.segments {
		total += c.metrics[SegmentMetric(s)]
	}
	return total
}

// SetPopulation writes population and rescales segment populations so they
// keep summing to it.
func (c *Cell) SetPopulation(v float64) {
	c.Set(Population, v)
	c.syncSegments()
}

// AddPopulation adjusts population by delta, keeping segments in proportion.
func (c *Cell) AddPopulation(delta float64) {
	c.SetPopulation(c.metrics[Population] + delta)
}

func (c *Cell) syncSegments() {
	if len(c.segments) == 0 {
		return
	}
	pop := c.metrics[Population]
	total := c.SegmentTotal()
	for _, s := range c.segments {
		key := SegmentMetric(s)
		if total > 0 {
			c.metrics[key] = c.metrics[key] * pop / total
		} else {
			c.metrics[key] = pop / float64(len(c.segments))
		}
	}
	c.dirty = true
}

// Enforce restores every range invariant after a module write. Finite
// out-of-range values are clamped; non-finite values cannot be repaired and
// return an *InvariantError naming the module that produced them.
func (c *Cell) Enforce(bounds Bounds, module string) error {
	for _, name := range c.metrics.Keys() {
		v := c.metrics[name]
		if !Finite(v) {
			return &InvariantError{GridID: c.id, Module: module, Metric: name, Value: v}
		}
		if r, ok := bounds[name]; ok {
			if cv := r.Clamp(v); cv != v {
				c.metrics[name] = cv
				c.dirty = true
			}
			continue
		}
		if _, ok := IsSegmentMetric(name); ok && v < 0 {
			c.metrics[name] = 0
			c.dirty = true
		}
	}
	if len(c.segments) > 0 {
		pop := c.metrics[Population]
		if math.Abs(c.SegmentTotal()-pop) > 1e-9*max(1, pop) {
			c.syncSegments()
		}
	}
	return nil
}

// Snapshot records an immutable copy of the metrics for timestep t.
// Repeated calls for the same timestep return the same record as long as the
// cell has not been written in between; a call after an intervening write
// returns ErrSnapshotExists.
func (c *Cell) Snapshot(runID string, t int) (Snapshot, error) {
	if n := len(c.history); n > 0 {
		last := c.history[n-1]
		switch {
		case t < last.Timestep:
			return Snapshot{}, fmt.Errorf("cell %s: timestep %d before %d: %w", c.id, t, last.Timestep, ErrSnapshotOrder)
		case t == last.Timestep && last.RunID == runID:
			if c.dirty {
				return Snapshot{}, fmt.Errorf("cell %s timestep %d: %w", c.id, t, ErrSnapshotExists)
			}
			return last, nil
		}
	}
	snap := Snapshot{
		RunID:    runID,
		Timestep: t,
		GridID:   c.id,
		segments: append([]string(nil), c.segments...),
		metrics:  c.metrics.Clone(),
	}
	c.history = append(c.history, snap)
	c.dirty = false
	return snap, nil
}

// History returns the recorded snapshots, oldest first.
func (c *Cell) History() []Snapshot {
	return append([]Snapshot(nil), c.history...)
}

// Frozen is an immutable View of a cell's metrics at some instant.
type Frozen struct {
	id      string
	metrics Metrics
}

// ID returns the grid id.
func (f Frozen) ID() string { return f.id }

// Get returns a metric value, or 0 if unset.
func (f Frozen) Get(metric string) float64 { return f.metrics[metric] }
