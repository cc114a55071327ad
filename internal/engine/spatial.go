// Spatial effects: spillover of metric differences into neighboring cells.
package engine

import (
	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// spilloverMetrics diffuse toward every neighbor.
var spilloverMetrics = []string{
	urban.Employment,
	urban.AirQualityIndex,
	urban.SafetyScore,
}

// SpatialEffects writes into neighbors, so it runs after every other module.
type SpatialEffects struct {
	cfg config.SpatialConfig
}

func NewSpatialEffects(cfg config.SpatialConfig) *SpatialEffects {
	return &SpatialEffects{cfg: cfg}
}

func (m *SpatialEffects) Name() string  { return config.ModuleSpatial }
func (m *SpatialEffects) Priority() int { return PrioritySpatial }

func (m *SpatialEffects) Apply(c *urban.Cell, nb Neighborhood) error {
	if nb.Len() == 0 {
		return nil
	}
	var err error
	transfer := func(id, metric string, delta float64) {
		if err == nil && delta != 0 {
			err = nb.Transfer(id, metric, delta)
		}
	}

	f := m.cfg.SpilloverFraction
	for _, metric := range spilloverMetrics {
		v := c.Get(metric)
		nb.Each(func(n urban.View) {
			transfer(n.ID(), metric, f*(v-n.Get(metric)))
		})
	}

	// Gentrification pressure only flows downhill.
	rent := c.Get(urban.AvgRent)
	nb.Each(func(n urban.View) {
		if nr := n.Get(urban.AvgRent); nr < rent {
			transfer(n.ID(), urban.AvgRent, m.cfg.RentFraction*(rent-nr))
		}
	})

	// Strong communities lift weaker neighbors.
	if cohesion := c.Get(urban.SocialCohesion); cohesion > m.cfg.CohesionThreshold {
		nb.Each(func(n urban.View) {
			if nc := n.Get(urban.SocialCohesion); nc < cohesion {
				transfer(n.ID(), urban.SocialCohesion, m.cfg.CohesionFraction*(cohesion-nc))
			}
		})
	}

	// Traffic backs up into clearer streets only.
	congestion := c.Get(urban.TrafficCongestion)
	nb.Each(func(n urban.View) {
		if gap := congestion - n.Get(urban.TrafficCongestion); gap > m.cfg.CongestionGap {
			transfer(n.ID(), urban.TrafficCongestion, m.cfg.CongestionFraction*gap)
		}
	})

	// Lively cells send a share of residents to their neighbors.
	if c.Get(urban.CommercialVitality) > m.cfg.VitalityThreshold {
		moved := c.Get(urban.Population) * m.cfg.AttractionFraction
		if moved > 0 {
			c.AddPopulation(-moved)
			share := moved / float64(nb.Len())
			nb.Each(func(n urban.View) {
				transfer(n.ID(), urban.Population, share)
			})
		}
	}
	return err
}
