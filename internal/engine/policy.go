// Policy interventions gated by named flags in the run configuration.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Policy applies every enabled intervention. With every flag off it writes
// nothing, so a run with all flags disabled matches a run without the module.
type Policy struct {
	cfg config.PolicyConfig
}

func NewPolicy(cfg config.PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

func (m *Policy) Name() string  { return config.ModulePolicy }
func (m *Policy) Priority() int { return PriorityPolicy }

func (m *Policy) Apply(c *urban.Cell, _ Neighborhood) error {
	bonus := 0.0
	if m.cfg.RentControl {
		m.rentControl(c)
	}
	if m.cfg.TransitInvestment {
		c.Add(urban.TransitAccessibility, m.cfg.TransitBoost)
		c.Add(urban.TrafficCongestion, -m.cfg.TransitCongestionRelief)
		bonus += m.cfg.TransitPopulationBonus
	}
	if m.cfg.EVSubsidy && m.covered(c) {
		c.Set(urban.AvgRent, c.Get(urban.AvgRent)*(1-m.cfg.SubsidyRate))
		bonus += m.cfg.EVPopulationBonus
	}
	if m.cfg.ProgressiveTax {
		m.progressiveTax(c)
	}
	if m.cfg.GreenSpaceMandate {
		m.greenMandate(c)
		if c.Get(urban.GreenSpaceRatio) > 0 {
			bonus += m.cfg.GreenPopulationBonus
		}
	}
	// Improved cells draw residents.
	if bonus > 0 {
		c.AddPopulation(c.Get(urban.Population) * bonus)
	}
	return nil
}

// rentControl tightens the per-timestep increase measured against the
// rent at the start of the timestep.
func (m *Policy) rentControl(c *urban.Cell) {
	base := c.Previous(urban.AvgRent)
	if base <= 0 {
		return
	}
	if limit := base * (1 + m.cfg.RentControlCap); c.Get(urban.AvgRent) > limit {
		c.Set(urban.AvgRent, limit)
	}
	c.Add(urban.DisplacementRisk, -m.cfg.RentControlRiskRelief)
}

func (m *Policy) covered(c *urban.Cell) bool {
	return m.cfg.SubsidyCoverage == "all" || c.Get(urban.ChargersCount) > 0
}

// progressiveTax trims rent above the threshold at the cost of some
// displacement pressure.
func (m *Policy) progressiveTax(c *urban.Cell) {
	rent := c.Get(urban.AvgRent)
	if rent <= m.cfg.TaxThreshold {
		return
	}
	c.Set(urban.AvgRent, rent-(rent-m.cfg.TaxThreshold)*m.cfg.TaxRentReduction)
	c.Add(urban.DisplacementRisk, m.cfg.TaxRiskIncrease)
}

// greenMandate moves the green space ratio toward the target.
func (m *Policy) greenMandate(c *urban.Cell) {
	green := c.Get(urban.GreenSpaceRatio)
	if green >= m.cfg.GreenTarget {
		return
	}
	c.Set(urban.GreenSpaceRatio, green+(m.cfg.GreenTarget-green)*m.cfg.GreenRate)
	c.Add(urban.AirQualityIndex, m.cfg.GreenAQIGain)
	c.Add(urban.SafetyScore, m.cfg.GreenSafetyGain)
}
