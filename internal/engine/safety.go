// Safety and labor: unemployment from the working-age population, and a
// safety score that follows jobs, transit, and green space.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Safety updates unemployment rate and safety score.
type Safety struct {
	cfg config.SafetyConfig
}

func NewSafety(cfg config.SafetyConfig) *Safety {
	return &Safety{cfg: cfg}
}

func (m *Safety) Name() string  { return config.ModuleSafety }
func (m *Safety) Priority() int { return PrioritySafety }

func (m *Safety) Apply(c *urban.Cell, nb Neighborhood) error {
	workforce := c.Get(urban.Population) * m.cfg.WorkingAgeShare
	unemployment := 0.0
	if workforce > 0 {
		unemployment = urban.Clamp01(1 - c.Get(urban.Employment)/workforce)
	}
	c.Set(urban.UnemploymentRate, unemployment)

	densityFactor := min(1, c.Get(urban.PopulationDensity)/m.cfg.DensityNorm)
	target := m.cfg.Base +
		m.cfg.EmploymentWeight*(1-unemployment) +
		m.cfg.TransitWeight*c.Get(urban.TransitAccessibility) +
		m.cfg.GreenWeight*c.Get(urban.GreenSpaceRatio) -
		m.cfg.DensityPenalty*densityFactor -
		m.cfg.CongestionPenalty*c.Get(urban.TrafficCongestion) -
		m.cfg.VacancyPenalty*c.Get(urban.VacancyRate)

	// Safety converges toward the neighborhood.
	if nb.Len() > 0 {
		w := m.cfg.NeighborWeight
		target = (1-w)*target + w*nb.Mean(urban.SafetyScore)
	}

	old := c.Get(urban.SafetyScore)
	s := m.cfg.Smoothing
	c.Set(urban.SafetyScore, urban.Clamp01(s*old+(1-s)*target))
	return nil
}
