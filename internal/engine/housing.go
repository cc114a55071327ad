// Housing market: demand-driven rent change, displacement risk, vacancy.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// HousingMarket moves rent with the demand-supply ratio.
type HousingMarket struct {
	cfg config.HousingConfig
}

func NewHousingMarket(cfg config.HousingConfig) *HousingMarket {
	return &HousingMarket{cfg: cfg}
}

func (m *HousingMarket) Name() string  { return config.ModuleHousing }
func (m *HousingMarket) Priority() int { return PriorityHousing }

// DemandSupplyRatio is population per housing unit, with at least one unit
// assumed so an empty cell never divides by zero.
func DemandSupplyRatio(population, units float64) float64 {
	return population / max(1, units)
}

// RentChange is the bounded fractional rent change for a demand-supply ratio.
func (m *HousingMarket) RentChange(ratio float64) float64 {
	return urban.Clamp((ratio-1)*m.cfg.DemandSensitivity, -m.cfg.RentCap, m.cfg.RentCap)
}

// DisplacementRisk grows as rent exceeds the affordability ceiling.
func (m *HousingMarket) DisplacementRisk(rent float64) float64 {
	return urban.Clamp01(1 - m.cfg.AffordabilityCeiling/rent)
}

// Apply updates rent, displacement risk, and vacancy. A cell without
// positive housing stock or rent has no defined market and fails the run.
func (m *HousingMarket) Apply(c *urban.Cell, _ Neighborhood) error {
	pop := c.Get(urban.Population)
	units := c.Get(urban.HousingUnits)
	rent := c.Get(urban.AvgRent)

	if !(units > 0) {
		return &urban.InvariantError{GridID: c.ID(), Module: m.Name(), Metric: urban.HousingUnits, Value: units}
	}
	if !(rent > 0) {
		return &urban.InvariantError{GridID: c.ID(), Module: m.Name(), Metric: urban.AvgRent, Value: rent}
	}

	pct := m.RentChange(DemandSupplyRatio(pop, units))
	rent = urban.Clamp(rent*(1+pct), m.cfg.MinRent, m.cfg.MaxRent)

	c.Set(urban.AvgRent, rent)
	c.Set(urban.DisplacementRisk, m.DisplacementRisk(rent))
	c.Set(urban.VacancyRate, urban.Clamp01(1-(pop/m.cfg.HouseholdSize)/units))
	return nil
}
