// Demographics: income segments, affordability-driven displacement, and
// high-income inflow.
package engine

import (
	"fmt"
	"math"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Demographics tracks the population of each income segment in a cell. The
// segment populations always sum to the cell's total population.
type Demographics struct {
	cfg          config.DemographicsConfig
	names        []string
	shares       []float64
	focus        int // segment whose share drives the gentrification index
	maxDeviation float64
}

// NewDemographics validates the segment list and prepares the target
// distribution.
func NewDemographics(cfg config.DemographicsConfig) (*Demographics, error) {
	if len(cfg.Segments) == 0 {
		return nil, fmt.Errorf("%w: demographics needs at least one segment", urban.ErrConfiguration)
	}
	m := &Demographics{cfg: cfg, focus: -1}
	total, minShare := 0.0, math.Inf(1)
	for i, s := range cfg.Segments {
		m.names = append(m.names, s.Name)
		m.shares = append(m.shares, s.Share)
		total += s.Share
		minShare = min(minShare, s.Share)
		if s.Name == cfg.AttractionSegment {
			m.focus = i
		}
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: segment shares sum to %v", urban.ErrConfiguration, total)
	}
	for i := range m.shares {
		m.shares[i] /= total
	}
	if m.focus < 0 {
		// Fall back to the highest-income segment.
		m.focus = 0
		for i, s := range cfg.Segments {
			if s.Income > cfg.Segments[m.focus].Income {
				m.focus = i
			}
		}
	}
	m.maxDeviation = 2 * (1 - minShare/total)
	return m, nil
}

func (m *Demographics) Name() string  { return config.ModuleDemographics }
func (m *Demographics) Priority() int { return PriorityDemographics }

func (m *Demographics) Apply(c *urban.Cell, _ Neighborhood) error {
	if len(c.Segments()) == 0 {
		if err := c.SeedSegments(m.names, m.shares); err != nil {
			return err
		}
	}

	rent := c.Get(urban.AvgRent)
	risk := c.Get(urban.DisplacementRisk)
	vitality := c.Get(urban.CommercialVitality)

	total := 0.0
	pops := make([]float64, len(m.cfg.Segments))
	for i, s := range m.cfg.Segments {
		p := c.Get(urban.SegmentMetric(s.Name))
		p -= p * m.outflowRate(s, rent, risk)
		if i == m.focus {
			p += p * m.inflowRate(s, rent, risk, vitality)
		}
		pops[i] = max(0, p)
		total += pops[i]
	}
	for i, s := range m.cfg.Segments {
		c.Set(urban.SegmentMetric(s.Name), pops[i])
	}
	c.Set(urban.Population, total)
	if area := c.AreaSqKm(); area > 0 {
		c.Set(urban.PopulationDensity, total/area)
	}

	gentrification, diversity := 0.0, 0.0
	if total > 0 {
		gentrification = m.gentrification(pops[m.focus] / total)
		diversity = m.diversity(pops, total)
	}
	c.Set(urban.GentrificationIndex, gentrification)
	c.Set(urban.IncomeDiversityIndex, diversity)
	return nil
}

// outflowRate is the fraction of a segment that leaves this timestep: zero
// unless rent exceeds the segment's ceiling and risk exceeds its threshold,
// then proportional to the overshoot and capped.
func (m *Demographics) outflowRate(s config.SegmentConfig, rent, risk float64) float64 {
	ceiling := s.Ceiling()
	if rent <= ceiling || risk <= s.DisplacementThreshold || s.MaxOutmigration <= 0 {
		return 0
	}
	overshoot := (rent - ceiling) / ceiling
	return min(s.MaxOutmigration, overshoot*m.cfg.OutmigrationSensitivity)
}

// inflowRate is the fraction an attraction segment grows by once rent and
// either risk or vitality pass its trigger.
func (m *Demographics) inflowRate(s config.SegmentConfig, rent, risk, vitality float64) float64 {
	a := s.Attraction
	if a == nil || rent < a.Rent {
		return 0
	}
	if risk < a.Risk && vitality < a.Vitality {
		return 0
	}
	return a.MaxInflow * urban.Clamp01(max(risk, vitality))
}

func (m *Demographics) gentrification(share float64) float64 {
	base := m.cfg.GentrificationBaseline
	if base >= 1 {
		return 0
	}
	return urban.Clamp01((share - base) / (1 - base))
}

func (m *Demographics) diversity(pops []float64, total float64) float64 {
	if m.maxDeviation <= 0 {
		return 1
	}
	dev := 0.0
	for i, p := range pops {
		dev += math.Abs(p/total - m.shares[i])
	}
	return urban.Clamp01(1 - dev/m.maxDeviation)
}
