package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Transportation derives traffic congestion from density, neighboring
// congestion, and transit access.
type Transportation struct {
	cfg config.TransportationConfig
}

func NewTransportation(cfg config.TransportationConfig) *Transportation {
	return &Transportation{cfg: cfg}
}

func (m *Transportation) Name() string  { return config.ModuleTransportation }
func (m *Transportation) Priority() int { return PriorityTransportation }

func (m *Transportation) Apply(c *urban.Cell, nb Neighborhood) error {
	densityFactor := min(1, c.Get(urban.PopulationDensity)/m.cfg.DensityNorm)

	demand := densityFactor
	if nb.Len() > 0 {
		w := m.cfg.NeighborWeight
		demand = densityFactor*(1-w) + nb.Mean(urban.TrafficCongestion)*w
	}

	target := min(1, demand/m.cfg.RoadCapacity)
	target -= m.cfg.TransitRelief * c.Get(urban.TransitAccessibility)

	old := c.Get(urban.TrafficCongestion)
	s := m.cfg.Smoothing
	c.Set(urban.TrafficCongestion, urban.Clamp01(s*old+(1-s)*target))
	return nil
}
