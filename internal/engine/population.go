// Population dynamics: natural growth, risk-driven outmigration, and
// rent-driven loss.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// PopulationDynamics grows or shrinks a cell's population each timestep.
type PopulationDynamics struct {
	cfg     config.PopulationConfig
	ceiling float64
}

// NewPopulationDynamics creates the module. ceiling is the affordability
// ceiling above which rent starts pushing residents out.
func NewPopulationDynamics(cfg config.PopulationConfig, ceiling float64) *PopulationDynamics {
	return &PopulationDynamics{cfg: cfg, ceiling: ceiling}
}

func (m *PopulationDynamics) Name() string  { return config.ModulePopulation }
func (m *PopulationDynamics) Priority() int { return PriorityPopulation }

// Apply adds natural growth, unless displacement risk is past the threshold,
// in which case residents leave in proportion to the risk. Rent above the
// affordability ceiling removes a further share. Population never drops
// below the configured floor.
func (m *PopulationDynamics) Apply(c *urban.Cell, _ Neighborhood) error {
	pop := c.Get(urban.Population)
	risk := c.Get(urban.DisplacementRisk)
	rent := c.Get(urban.AvgRent)

	var delta float64
	if risk > m.cfg.DisplacementThreshold {
		delta = -pop * risk * m.cfg.OutmigrationRate
	} else {
		delta = pop * m.cfg.GrowthRate
	}
	if m.cfg.RentLossDivisor > 0 {
		delta -= pop * max(0, rent-m.ceiling) / m.cfg.RentLossDivisor
	}

	next := max(m.cfg.MinPopulation, pop+delta, 0)
	c.SetPopulation(next)
	if area := c.AreaSqKm(); area > 0 {
		c.Set(urban.PopulationDensity, next/area)
	}
	return nil
}
