package engine

import (
	"fmt"
	"slices"

	"github.com/talgya/urbansim/internal/urban"
)

// Neighborhood is what a module sees of the cells adjacent to the one it is
// updating.
type Neighborhood interface {
	Len() int
	Each(fn func(n urban.View))
	Mean(metric string) float64
	// Transfer adds delta to a neighbor's metric. Only spillover modules
	// write through here.
	Transfer(gridID, metric string, delta float64) error
}

// Isolated is a Neighborhood with no neighbors.
var Isolated Neighborhood = staticNeighborhood(nil)

type staticNeighborhood []urban.View

// StaticNeighborhood wraps fixed views. Transfers are rejected.
func StaticNeighborhood(views ...urban.View) Neighborhood {
	return staticNeighborhood(views)
}

func (s staticNeighborhood) Len() int { return len(s) }

func (s staticNeighborhood) Each(fn func(n urban.View)) {
	for _, v := range s {
		fn(v)
	}
}

func (s staticNeighborhood) Mean(metric string) float64 {
	return mean(s, metric)
}

func (s staticNeighborhood) Transfer(gridID, metric string, delta float64) error {
	return fmt.Errorf("transfer to %s: neighborhood is read-only", gridID)
}

func mean(views []urban.View, metric string) float64 {
	if len(views) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range views {
		total += v.Get(metric)
	}
	return total / float64(len(views))
}

// liveNeighborhood reads neighbors' current metrics and writes transfers
// straight into them. Earlier writes in the same timestep are visible.
type liveNeighborhood struct {
	views  []urban.View
	cells  map[string]*urban.Cell
	bounds urban.Bounds
}

func (n *liveNeighborhood) Len() int { return len(n.views) }

func (n *liveNeighborhood) Each(fn func(v urban.View)) {
	for _, v := range n.views {
		fn(v)
	}
}

func (n *liveNeighborhood) Mean(metric string) float64 {
	return mean(n.views, metric)
}

func (n *liveNeighborhood) Transfer(gridID, metric string, delta float64) error {
	c, ok := n.cells[gridID]
	if !ok {
		return fmt.Errorf("transfer to unknown cell %s", gridID)
	}
	applyDelta(c, metric, delta)
	return c.Enforce(n.bounds, "transfer")
}

// bufferedNeighborhood reads neighbors as they were at the start of the
// timestep and queues transfers for the end-of-timestep merge.
type bufferedNeighborhood struct {
	views  []urban.View
	deltas *deltaBuffer
}

func (n *bufferedNeighborhood) Len() int { return len(n.views) }

func (n *bufferedNeighborhood) Each(fn func(v urban.View)) {
	for _, v := range n.views {
		fn(v)
	}
}

func (n *bufferedNeighborhood) Mean(metric string) float64 {
	return mean(n.views, metric)
}

func (n *bufferedNeighborhood) Transfer(gridID, metric string, delta float64) error {
	return n.deltas.add(gridID, metric, delta)
}

// deltaBuffer accumulates transfers per cell and metric.
type deltaBuffer struct {
	known  map[string]bool
	deltas map[string]map[string]float64
}

func newDeltaBuffer(ids []string) *deltaBuffer {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &deltaBuffer{known: known, deltas: make(map[string]map[string]float64)}
}

func (b *deltaBuffer) add(gridID, metric string, delta float64) error {
	if !b.known[gridID] {
		return fmt.Errorf("transfer to unknown cell %s", gridID)
	}
	m := b.deltas[gridID]
	if m == nil {
		m = make(map[string]float64)
		b.deltas[gridID] = m
	}
	m[metric] += delta
	return nil
}

// merge applies every queued delta in sorted (cell, metric) order and
// restores each touched cell's invariants.
func (b *deltaBuffer) merge(cells map[string]*urban.Cell, bounds urban.Bounds) error {
	ids := make([]string, 0, len(b.deltas))
	for id := range b.deltas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		c := cells[id]
		m := b.deltas[id]
		metrics := make([]string, 0, len(m))
		for k := range m {
			metrics = append(metrics, k)
		}
		slices.Sort(metrics)
		for _, k := range metrics {
			applyDelta(c, k, m[k])
		}
		if err := c.Enforce(bounds, "transfer"); err != nil {
			return err
		}
	}
	return nil
}

// applyDelta routes population changes through the segment-aware setter.
func applyDelta(c *urban.Cell, metric string, delta float64) {
	if metric == urban.Population {
		c.AddPopulation(delta)
		return
	}
	c.Add(metric, delta)
}
