// Package urban defines the per-cell state the simulation mutates: named
// metrics, their declared ranges, and write-once snapshots.
package urban

import (
	"maps"
	"math"
	"slices"
	"strings"
)

// Metric names. Modules read and write cells only through these keys.
const (
	Population            = "population"
	PopulationDensity     = "population_density"
	AvgRent               = "avg_rent"
	HousingUnits          = "housing_units"
	VacancyRate           = "vacancy_rate"
	Employment            = "employment"
	UnemploymentRate      = "unemployment_rate"
	TrafficCongestion     = "traffic_congestion"
	TransitAccessibility  = "public_transit_accessibility"
	SafetyScore           = "safety_score"
	DisplacementRisk      = "displacement_risk"
	GreenSpaceRatio       = "green_space_ratio"
	AirQualityIndex       = "air_quality_index"
	CommercialVitality    = "commercial_vitality"
	SocialCohesion        = "social_cohesion_index"
	ChargersCount         = "chargers_count"
	EVCapacityKW          = "ev_capacity_kw"
	ChargerDensity        = "charger_density"
	GentrificationIndex   = "gentrification_index"
	IncomeDiversityIndex  = "income_diversity_index"
	segmentPopulationTail = "_income_population"
)

// UnitMetrics are the metrics bounded to [0, 1].
var UnitMetrics = []string{
	VacancyRate,
	UnemploymentRate,
	TrafficCongestion,
	TransitAccessibility,
	SafetyScore,
	DisplacementRisk,
	GreenSpaceRatio,
	CommercialVitality,
	SocialCohesion,
	GentrificationIndex,
	IncomeDiversityIndex,
}

// CountMetrics are non-negative quantities with no upper bound.
var CountMetrics = []string{
	Population,
	PopulationDensity,
	HousingUnits,
	Employment,
	ChargersCount,
	EVCapacityKW,
	ChargerDensity,
}

// SegmentMetric returns the metric key holding an income segment's population.
func SegmentMetric(segment string) string {
	return segment + segmentPopulationTail
}

// IsSegmentMetric reports whether name is a segment population key and
// returns the segment name.
func IsSegmentMetric(name string) (string, bool) {
	seg, ok := strings.CutSuffix(name, segmentPopulationTail)
	return seg, ok && seg != ""
}

// Metrics maps metric names to values.
type Metrics map[string]float64

// Clone returns an independent copy.
func (m Metrics) Clone() Metrics {
	return maps.Clone(m)
}

// Keys returns metric names in sorted order.
func (m Metrics) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Clamp restricts v to the range.
func (r Range) Clamp(v float64) float64 {
	return Clamp(v, r.Min, r.Max)
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds declares the valid range of each bounded metric. Metrics without an
// entry are only checked for finiteness.
type Bounds map[string]Range

// StandardBounds returns the range invariants every cell must satisfy after
// each module write. Rent and air quality ranges come from configuration.
func StandardBounds(rent, airQuality Range) Bounds {
	b := make(Bounds, len(UnitMetrics)+len(CountMetrics)+2)
	for _, m := range UnitMetrics {
		b[m] = Range{Min: 0, Max: 1}
	}
	for _, m := range CountMetrics {
		b[m] = Range{Min: 0, Max: math.Inf(1)}
	}
	b[AvgRent] = rent
	b[AirQualityIndex] = airQuality
	return b
}

// Check returns the names of metrics in m that fall outside their range,
// sorted.
func (b Bounds) Check(m Metrics) []string {
	var bad []string
	for _, name := range m.Keys() {
		v := m[name]
		if !Finite(v) {
			bad = append(bad, name)
			continue
		}
		if r, ok := b[name]; ok && !r.Contains(v) {
			bad = append(bad, name)
		}
	}
	return bad
}
