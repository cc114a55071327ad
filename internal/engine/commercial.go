package engine

import (
	"math"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Commercial tracks how lively a cell's shops and services are.
type Commercial struct {
	cfg config.CommercialConfig
}

func NewCommercial(cfg config.CommercialConfig) *Commercial {
	return &Commercial{cfg: cfg}
}

func (m *Commercial) Name() string  { return config.ModuleCommercial }
func (m *Commercial) Priority() int { return PriorityCommercial }

// Apply sets vitality from the geometric mean of local demand, accessibility,
// and safety, blended with the neighbors' vitality and smoothed over time.
func (m *Commercial) Apply(c *urban.Cell, nb Neighborhood) error {
	demand := min(1, c.Get(urban.Population)/m.cfg.DemandNorm)
	access := (c.Get(urban.TransitAccessibility) + 1 - c.Get(urban.TrafficCongestion)) / 2
	local := math.Cbrt(max(0, demand) * urban.Clamp01(access) * urban.Clamp01(c.Get(urban.SafetyScore)))

	if nb.Len() > 0 {
		w := m.cfg.NeighborWeight
		local = (1-w)*local + w*nb.Mean(urban.CommercialVitality)
	}

	old := c.Get(urban.CommercialVitality)
	s := m.cfg.Smoothing
	c.Set(urban.CommercialVitality, urban.Clamp01(s*old+(1-s)*local))
	return nil
}
