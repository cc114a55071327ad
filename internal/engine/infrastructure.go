// Infrastructure: EV charging, schools, and clinics. Each makes a cell a
// little more attractive, pricier, and better connected.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// EVInfrastructure applies the effects of charging stations.
type EVInfrastructure struct {
	cfg config.EVConfig
}

func NewEVInfrastructure(cfg config.EVConfig) *EVInfrastructure {
	return &EVInfrastructure{cfg: cfg}
}

func (m *EVInfrastructure) Name() string  { return config.ModuleEV }
func (m *EVInfrastructure) Priority() int { return PriorityEV }

// Apply does nothing in a cell without chargers.
func (m *EVInfrastructure) Apply(c *urban.Cell, _ Neighborhood) error {
	chargers := c.Get(urban.ChargersCount)
	area := c.AreaSqKm()
	if chargers <= 0 || area <= 0 {
		return nil
	}
	density := chargers / area
	c.Set(urban.ChargerDensity, density)

	c.Add(urban.AirQualityIndex, min(m.cfg.MaxAQIGain, density*m.cfg.AQIPerCharger))
	premium := min(m.cfg.MaxRentPremium, density*m.cfg.RentPremium)
	c.Set(urban.AvgRent, c.Get(urban.AvgRent)*(1+premium))
	c.Add(urban.Employment, c.Get(urban.EVCapacityKW)*m.cfg.JobsPerKW)
	c.Add(urban.TransitAccessibility, m.cfg.TransitBoost)
	c.Add(urban.SocialCohesion, m.cfg.CohesionBoost)
	c.AddPopulation(c.Get(urban.Population) * min(m.cfg.MaxAttraction, density*m.cfg.AttractionPerDensity))
	return nil
}

// Facility applies the effects of population-scaled services. Education and
// healthcare are two configurations of it.
type Facility struct {
	name     string
	priority int
	cfg      config.FacilityConfig
}

func NewEducation(cfg config.FacilityConfig) *Facility {
	return &Facility{name: config.ModuleEducation, priority: PriorityEducation, cfg: cfg}
}

func NewHealthcare(cfg config.FacilityConfig) *Facility {
	return &Facility{name: config.ModuleHealthcare, priority: PriorityHealthcare, cfg: cfg}
}

func (m *Facility) Name() string  { return m.name }
func (m *Facility) Priority() int { return m.priority }

// Facilities returns the number of facilities a population supports.
func (m *Facility) Facilities(population float64) float64 {
	if m.cfg.ResidentsPerFacility <= 0 {
		return 0
	}
	return population / m.cfg.ResidentsPerFacility
}

func (m *Facility) Apply(c *urban.Cell, _ Neighborhood) error {
	pop := c.Get(urban.Population)
	n := m.Facilities(pop)
	if n <= 0 {
		return nil
	}

	premium := min(m.cfg.MaxRentPremium, n*m.cfg.RentPremium)
	c.Set(urban.AvgRent, c.Get(urban.AvgRent)*(1+premium))
	c.Add(urban.Employment, n*m.cfg.JobsPerFacility)
	c.Add(urban.SocialCohesion, m.cfg.CohesionBoost)
	if m.cfg.SafetyBoost != 0 {
		c.Add(urban.SafetyScore, m.cfg.SafetyBoost)
	}
	c.AddPopulation(pop * min(m.cfg.MaxAttraction, n*m.cfg.Attraction))
	return nil
}
