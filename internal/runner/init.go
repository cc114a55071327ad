package runner

import (
	"fmt"
	"maps"
	"math"
	"math/rand"
	"slices"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/engine"
	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

// roundedMetrics are whole counts.
var roundedMetrics = map[string]bool{
	urban.HousingUnits:  true,
	urban.ChargersCount: true,
}

// InitCells creates one cell per grid cell with initial metrics drawn from
// the city profile's ranges, then fills in the derived metrics. The same
// seed always yields the same cells.
//
// In uniform mode every metric is drawn independently per cell. In noise
// mode each metric samples its own simplex field at the cell centroid, so
// neighboring cells get similar values.
func InitCells(cfg *config.Config, city config.CityProfile, grid *world.Grid, seed int64) ([]*urban.Cell, error) {
	metrics := make([]string, 0, len(city.Initial))
	for _, m := range config.RequiredInitialMetrics {
		if _, ok := city.Initial[m]; !ok {
			return nil, fmt.Errorf("%w: city %q has no initial range for %s", urban.ErrConfiguration, city.DisplayName, m)
		}
		metrics = append(metrics, m)
	}
	// Optional extras, in a fixed order.
	for _, m := range slices.Sorted(maps.Keys(city.Initial)) {
		if !slices.Contains(metrics, m) {
			metrics = append(metrics, m)
		}
	}

	var sample func(metric int, gc world.GridCell) float64
	switch city.InitMode {
	case config.InitUniform, "":
		rng := rand.New(rand.NewSource(seed + 100))
		sample = func(int, world.GridCell) float64 { return rng.Float64() }
	case config.InitNoise:
		fields := make([]*world.NoiseField, len(metrics))
		for i := range metrics {
			fields[i] = world.NewNoiseField(seed+int64(i), cfg.Engine.Noise)
		}
		sample = func(metric int, gc world.GridCell) float64 {
			return fields[metric].At(gc.Polygon.Centroid())
		}
	default:
		return nil, fmt.Errorf("%w: unknown init mode %q", urban.ErrConfiguration, city.InitMode)
	}

	housing := engine.NewHousingMarket(cfg.Housing)
	cells := make([]*urban.Cell, 0, len(grid.Cells))
	for _, gc := range grid.Cells {
		m := make(urban.Metrics, len(metrics)+6)
		for j, name := range metrics {
			r := city.Initial[name]
			v := r.Min + sample(j, gc)*(r.Max-r.Min)
			if roundedMetrics[name] {
				v = math.Round(v)
			}
			m[name] = v
		}
		derive(m, gc.AreaSqKm, cfg, housing)
		cells = append(cells, urban.NewCell(gc.ID, gc.Polygon, gc.AreaSqKm, m))
	}
	return cells, nil
}

// derive computes the metrics that follow from the drawn ones.
func derive(m urban.Metrics, area float64, cfg *config.Config, housing *engine.HousingMarket) {
	pop := m[urban.Population]
	if area > 0 {
		m[urban.PopulationDensity] = pop / area
		m[urban.ChargerDensity] = m[urban.ChargersCount] / area
	}

	workforce := pop * cfg.Modules.Safety.WorkingAgeShare
	m[urban.UnemploymentRate] = 0
	if workforce > 0 {
		m[urban.UnemploymentRate] = urban.Clamp01(1 - m[urban.Employment]/workforce)
	}

	m[urban.VacancyRate] = 0
	if units := m[urban.HousingUnits]; units > 0 && cfg.Housing.HouseholdSize > 0 {
		m[urban.VacancyRate] = urban.Clamp01(1 - (pop/cfg.Housing.HouseholdSize)/units)
	}

	if rent := m[urban.AvgRent]; rent > 0 {
		m[urban.DisplacementRisk] = housing.DisplacementRisk(rent)
	}
}
