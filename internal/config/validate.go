package config

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/talgya/urbansim/internal/urban"
)

// Severity indicates how critical a validation result is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Result is a single validation finding.
type Result struct {
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Path        string   `json:"path"` // dotted config key
	ActualValue any      `json:"actual_value,omitempty"`
	Expected    string   `json:"expected,omitempty"`
}

func (r Result) String() string {
	s := fmt.Sprintf("%s: %s", r.Path, r.Message)
	if r.Expected != "" {
		s += fmt.Sprintf(" (got %v, expected %s)", r.ActualValue, r.Expected)
	}
	return s
}

// Report is the complete validation output.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []Result `json:"errors"`
	Warnings []Result `json:"warnings"`
	Summary  string   `json:"summary"`
}

// NewReport creates an empty valid report.
func NewReport() *Report {
	r := &Report{
		Valid:    true,
		Errors:   []Result{},
		Warnings: []Result{},
	}
	r.updateSummary()
	return r
}

// AddError adds an error result and marks the report invalid.
func (r *Report) AddError(result Result) {
	result.Severity = SeverityError
	r.Errors = append(r.Errors, result)
	r.Valid = false
	r.updateSummary()
}

// AddWarning adds a warning result.
func (r *Report) AddWarning(result Result) {
	result.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, result)
	r.updateSummary()
}

// Merge combines another report into this one.
func (r *Report) Merge(other *Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	if !other.Valid {
		r.Valid = false
	}
	r.updateSummary()
}

// Err returns nil for a valid report, otherwise one error wrapping
// urban.ErrConfiguration that lists every problem.
func (r *Report) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, errors.New(e.String()))
	}
	return fmt.Errorf("%w: %w", urban.ErrConfiguration, errors.Join(errs...))
}

func (r *Report) updateSummary() {
	r.Summary = fmt.Sprintf("%d errors, %d warnings", len(r.Errors), len(r.Warnings))
}

// Validate checks the whole configuration. City profiles are checked in
// sorted order so reports are stable.
func Validate(cfg *Config) *Report {
	report := NewReport()
	report.Merge(validateEngine(cfg.Engine))
	report.Merge(validateHousing(cfg.Housing))
	report.Merge(validateModules(cfg.Modules))
	report.Merge(validatePolicy(cfg.Policy))
	report.Merge(validateDemographics(cfg.Demographics))
	if len(cfg.Cities) == 0 {
		report.AddError(Result{Path: "cities", Message: "no city profiles configured"})
	}
	for _, name := range cfg.CityNames() {
		report.Merge(ValidateCity(cfg, name))
	}
	return report
}

// ValidateCity checks one city profile against the rest of the configuration.
func ValidateCity(cfg *Config, name string) *Report {
	report := NewReport()
	p, ok := cfg.Cities[name]
	path := "cities." + name
	if !ok {
		report.AddError(Result{Path: path, Message: "unknown city"})
		return report
	}

	switch p.InitMode {
	case InitUniform, InitNoise, "":
	default:
		report.AddError(Result{Path: path + ".init_mode", Message: "unknown init mode", ActualValue: p.InitMode, Expected: "uniform or noise"})
	}
	if p.GridRadius < 0 {
		report.AddError(Result{Path: path + ".grid_radius", Message: "negative grid radius", ActualValue: p.GridRadius, Expected: ">= 0"})
	}

	for _, m := range RequiredInitialMetrics {
		if _, ok := p.Initial[m]; !ok {
			report.AddError(Result{Path: path + ".initial." + m, Message: "required initial metric missing"})
		}
	}

	bounds := cfg.Bounds()
	for _, m := range sortedKeys(p.Initial) {
		r := p.Initial[m]
		mp := path + ".initial." + m
		if !urban.Finite(r.Min) || !urban.Finite(r.Max) {
			report.AddError(Result{Path: mp, Message: "range bounds must be finite", ActualValue: r})
			continue
		}
		if r.Min > r.Max {
			report.AddError(Result{Path: mp, Message: "inverted range", ActualValue: r, Expected: "min <= max"})
			continue
		}
		if b, ok := bounds[m]; ok && (!b.Contains(r.Min) || !b.Contains(r.Max)) {
			report.AddError(Result{Path: mp, Message: "initial range outside declared invariant", ActualValue: r, Expected: fmt.Sprintf("within [%v, %v]", b.Min, b.Max)})
		}
	}
	if r, ok := p.Initial[urban.HousingUnits]; ok && r.Min < 1 {
		report.AddError(Result{Path: path + ".initial.housing_units", Message: "housing units must be at least 1", ActualValue: r.Min, Expected: ">= 1"})
	}
	return report
}

func validateEngine(e EngineConfig) *Report {
	report := NewReport()
	if e.Timesteps < 1 {
		report.AddError(Result{Path: "engine.timesteps", Message: "must run at least one timestep", ActualValue: e.Timesteps, Expected: ">= 1"})
	}
	if e.CheckpointEvery < 1 {
		report.AddError(Result{Path: "engine.checkpoint_every", Message: "checkpoint cadence must be positive", ActualValue: e.CheckpointEvery, Expected: ">= 1"})
	}
	if e.CheckpointQueue < 0 {
		report.AddError(Result{Path: "engine.checkpoint_queue", Message: "negative queue size", ActualValue: e.CheckpointQueue, Expected: ">= 0"})
	}
	switch e.NeighborMode {
	case NeighborBuffered, NeighborSequential:
	default:
		report.AddError(Result{Path: "engine.neighbor_mode", Message: "unknown neighbor mode", ActualValue: e.NeighborMode, Expected: "buffered or sequential"})
	}
	if e.GridRadius < 0 {
		report.AddError(Result{Path: "engine.grid_radius", Message: "negative grid radius", ActualValue: e.GridRadius, Expected: ">= 0"})
	}
	if e.CellSize <= 0 {
		report.AddError(Result{Path: "engine.cell_size_m", Message: "cell size must be positive", ActualValue: e.CellSize, Expected: "> 0"})
	}
	if e.AirQuality.Min > e.AirQuality.Max {
		report.AddError(Result{Path: "engine.air_quality_range", Message: "inverted range", ActualValue: e.AirQuality, Expected: "min <= max"})
	}
	for _, m := range e.Modules {
		if !slices.Contains(ModuleNames, m) {
			report.AddError(Result{Path: "engine.modules", Message: "unknown module", ActualValue: m, Expected: fmt.Sprintf("one of %v", ModuleNames)})
		}
	}
	if e.Shuffle && e.Seed == 0 {
		report.AddWarning(Result{Path: "engine.seed", Message: "seed 0 draws a fresh seed; shuffled runs will not be reproducible unless the seed is recorded"})
	}
	return report
}

func validateHousing(h HousingConfig) *Report {
	report := NewReport()
	if h.RentCap <= 0 {
		report.AddError(Result{Path: "housing.rent_cap", Message: "rent cap must be positive", ActualValue: h.RentCap, Expected: "> 0"})
	}
	if h.DemandSensitivity < 0 {
		report.AddError(Result{Path: "housing.demand_sensitivity", Message: "negative sensitivity", ActualValue: h.DemandSensitivity, Expected: ">= 0"})
	}
	if h.MinRent <= 0 || h.MinRent > h.MaxRent {
		report.AddError(Result{Path: "housing.min_rent", Message: "rent range must be positive and ordered", ActualValue: urban.Range{Min: h.MinRent, Max: h.MaxRent}, Expected: "0 < min_rent <= max_rent"})
	}
	if h.AffordabilityCeiling <= 0 {
		report.AddError(Result{Path: "housing.affordability_ceiling", Message: "ceiling must be positive", ActualValue: h.AffordabilityCeiling, Expected: "> 0"})
	}
	if h.HouseholdSize <= 0 {
		report.AddError(Result{Path: "housing.household_size", Message: "household size must be positive", ActualValue: h.HouseholdSize, Expected: "> 0"})
	}
	return report
}

func validateModules(m ModulesConfig) *Report {
	report := NewReport()
	positive := map[string]float64{
		"modules.population.rent_loss_divisor":      m.Population.RentLossDivisor,
		"modules.transportation.density_norm":       m.Transportation.DensityNorm,
		"modules.transportation.road_capacity":      m.Transportation.RoadCapacity,
		"modules.safety.density_norm":               m.Safety.DensityNorm,
		"modules.safety.working_age_share":          m.Safety.WorkingAgeShare,
		"modules.commercial.demand_norm":            m.Commercial.DemandNorm,
		"modules.education.residents_per_facility":  m.Education.ResidentsPerFacility,
		"modules.healthcare.residents_per_facility": m.Healthcare.ResidentsPerFacility,
	}
	for _, path := range sortedKeys(positive) {
		if v := positive[path]; v <= 0 || math.IsNaN(v) {
			report.AddError(Result{Path: path, Message: "must be positive", ActualValue: v, Expected: "> 0"})
		}
	}
	unit := map[string]float64{
		"modules.transportation.neighbor_weight": m.Transportation.NeighborWeight,
		"modules.transportation.smoothing":       m.Transportation.Smoothing,
		"modules.safety.neighbor_weight":         m.Safety.NeighborWeight,
		"modules.safety.smoothing":               m.Safety.Smoothing,
		"modules.commercial.neighbor_weight":     m.Commercial.NeighborWeight,
		"modules.commercial.smoothing":           m.Commercial.Smoothing,
		"modules.spatial.spillover_fraction":     m.Spatial.SpilloverFraction,
		"modules.spatial.rent_fraction":          m.Spatial.RentFraction,
		"modules.spatial.attraction_fraction":    m.Spatial.AttractionFraction,
		"modules.spatial.cohesion_threshold":     m.Spatial.CohesionThreshold,
		"modules.spatial.cohesion_fraction":      m.Spatial.CohesionFraction,
		"modules.spatial.congestion_gap":         m.Spatial.CongestionGap,
		"modules.spatial.congestion_fraction":    m.Spatial.CongestionFraction,
	}
	for _, path := range sortedKeys(unit) {
		if v := unit[path]; v < 0 || v > 1 || math.IsNaN(v) {
			report.AddError(Result{Path: path, Message: "must be a fraction", ActualValue: v, Expected: "[0, 1]"})
		}
	}
	// Spillover to six neighbors at more than 1/6 would overshoot the source.
	if m.Spatial.SpilloverFraction > 1.0/6 {
		report.AddWarning(Result{Path: "modules.spatial.spillover_fraction", Message: "spillover may overshoot on interior cells", ActualValue: m.Spatial.SpilloverFraction, Expected: "<= 0.1667"})
	}
	if m.Population.MinPopulation < 0 {
		report.AddError(Result{Path: "modules.population.min_population", Message: "negative floor", ActualValue: m.Population.MinPopulation, Expected: ">= 0"})
	}
	return report
}

func validatePolicy(p PolicyConfig) *Report {
	report := NewReport()
	if p.RentControl && p.RentControlCap < 0 {
		report.AddError(Result{Path: "policy.rent_control_cap", Message: "negative cap", ActualValue: p.RentControlCap, Expected: ">= 0"})
	}
	if p.EVSubsidy {
		switch p.SubsidyCoverage {
		case "chargers", "all":
		default:
			report.AddError(Result{Path: "policy.subsidy_coverage", Message: "unknown coverage", ActualValue: p.SubsidyCoverage, Expected: "chargers or all"})
		}
		if p.SubsidyRate < 0 || p.SubsidyRate >= 1 {
			report.AddError(Result{Path: "policy.subsidy_rate", Message: "must be a fraction below 1", ActualValue: p.SubsidyRate, Expected: "[0, 1)"})
		}
	}
	if p.GreenSpaceMandate && (p.GreenTarget < 0 || p.GreenTarget > 1) {
		report.AddError(Result{Path: "policy.green_target", Message: "must be a ratio", ActualValue: p.GreenTarget, Expected: "[0, 1]"})
	}
	bonus := map[string]float64{
		"policy.ev_population_bonus":      p.EVPopulationBonus,
		"policy.transit_population_bonus": p.TransitPopulationBonus,
		"policy.green_population_bonus":   p.GreenPopulationBonus,
	}
	for _, path := range sortedKeys(bonus) {
		if v := bonus[path]; v < 0 || v > 1 || math.IsNaN(v) {
			report.AddError(Result{Path: path, Message: "must be a fraction", ActualValue: v, Expected: "[0, 1]"})
		}
	}
	return report
}

func validateDemographics(d DemographicsConfig) *Report {
	report := NewReport()
	if len(d.Segments) == 0 {
		report.AddError(Result{Path: "demographics.segments", Message: "at least one income segment required"})
		return report
	}
	total := 0.0
	seen := make(map[string]bool, len(d.Segments))
	for i, s := range d.Segments {
		path := fmt.Sprintf("demographics.segments[%d]", i)
		if s.Name == "" {
			report.AddError(Result{Path: path + ".name", Message: "segment name required"})
		}
		if seen[s.Name] {
			report.AddError(Result{Path: path + ".name", Message: "duplicate segment", ActualValue: s.Name})
		}
		seen[s.Name] = true
		if s.Share < 0 {
			report.AddError(Result{Path: path + ".share", Message: "negative share", ActualValue: s.Share, Expected: ">= 0"})
		}
		if s.Ceiling() <= 0 {
			report.AddError(Result{Path: path, Message: "affordability ceiling must be positive", ActualValue: s.Ceiling(), Expected: "income * rent_to_income > 0"})
		}
		if s.MaxOutmigration < 0 || s.MaxOutmigration > 1 {
			report.AddError(Result{Path: path + ".max_outmigration", Message: "must be a fraction", ActualValue: s.MaxOutmigration, Expected: "[0, 1]"})
		}
		if s.Attraction != nil && (s.Attraction.MaxInflow < 0 || s.Attraction.MaxInflow > 1) {
			report.AddError(Result{Path: path + ".attraction.max_inflow", Message: "must be a fraction", ActualValue: s.Attraction.MaxInflow, Expected: "[0, 1]"})
		}
		total += s.Share
	}
	if math.Abs(total-1) > 1e-6 {
		report.AddError(Result{Path: "demographics.segments", Message: "segment shares must sum to 1", ActualValue: total, Expected: "1.0"})
	}
	if d.AttractionSegment != "" && !seen[d.AttractionSegment] {
		report.AddError(Result{Path: "demographics.attraction_segment", Message: "unknown segment", ActualValue: d.AttractionSegment})
	}
	if d.GentrificationBaseline < 0 || d.GentrificationBaseline >= 1 {
		report.AddError(Result{Path: "demographics.gentrification_baseline", Message: "must be a fraction below 1", ActualValue: d.GentrificationBaseline, Expected: "[0, 1)"})
	}
	return report
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
