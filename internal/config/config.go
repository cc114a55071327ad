// Package config provides configuration loading for the simulator.
// Every coefficient the engine uses lives here; the engine bakes in no
// literals of its own.
package config

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Neighbor read modes.
const (
	NeighborBuffered   = "buffered"
	NeighborSequential = "sequential"
)

// Initialization modes for city profiles.
const (
	InitUniform = "uniform"
	InitNoise   = "noise"
)

// Config holds all simulation configuration parameters.
type Config struct {
	Engine       EngineConfig           `yaml:"engine"`
	Housing      HousingConfig          `yaml:"housing"`
	Modules      ModulesConfig          `yaml:"modules"`
	Policy       PolicyConfig           `yaml:"policy"`
	Demographics DemographicsConfig     `yaml:"demographics"`
	Cities       map[string]CityProfile `yaml:"cities"`
}

// EngineConfig controls the timestep loop.
type EngineConfig struct {
	Timesteps       int               `yaml:"timesteps"`
	CheckpointEvery int               `yaml:"checkpoint_every"` // snapshot cadence; the final timestep is always written
	Shuffle         bool              `yaml:"shuffle"`          // shuffle cell order each timestep
	NeighborMode    string            `yaml:"neighbor_mode"`    // buffered | sequential
	Seed            int64             `yaml:"seed"`             // 0 = draw a fresh seed
	GridRadius      int               `yaml:"grid_radius"`
	CellSize        float64           `yaml:"cell_size_m"` // hex circumradius in metres
	CheckpointQueue int               `yaml:"checkpoint_queue"`
	Modules         []string          `yaml:"modules"` // enabled modules; empty = all
	AirQuality      urban.Range       `yaml:"air_quality_range"`
	Noise           world.NoiseConfig `yaml:"noise"`
}

// HousingConfig holds housing market coefficients and the rent invariant.
type HousingConfig struct {
	DemandSensitivity    float64 `yaml:"demand_sensitivity"`
	RentCap              float64 `yaml:"rent_cap"` // max fractional rent change per timestep
	MinRent              float64 `yaml:"min_rent"`
	MaxRent              float64 `yaml:"max_rent"`
	AffordabilityCeiling float64 `yaml:"affordability_ceiling"`
	HouseholdSize        float64 `yaml:"household_size"`
}

// RentRange returns the declared rent invariant.
func (h HousingConfig) RentRange() urban.Range {
	return urban.Range{Min: h.MinRent, Max: h.MaxRent}
}

// ModulesConfig groups per-module coefficients.
type ModulesConfig struct {
	Population     PopulationConfig     `yaml:"population"`
	Transportation TransportationConfig `yaml:"transportation"`
	Safety         SafetyConfig         `yaml:"safety"`
	Commercial     CommercialConfig     `yaml:"commercial"`
	EV             EVConfig             `yaml:"ev"`
	Education      FacilityConfig       `yaml:"education"`
	Healthcare     FacilityConfig       `yaml:"healthcare"`
	Spatial        SpatialConfig        `yaml:"spatial"`
}

// PopulationConfig holds natural growth and migration coefficients.
type PopulationConfig struct {
	GrowthRate            float64 `yaml:"growth_rate"`
	DisplacementThreshold float64 `yaml:"displacement_threshold"`
	OutmigrationRate      float64 `yaml:"outmigration_rate"` // k1
	RentLossDivisor       float64 `yaml:"rent_loss_divisor"` // k2
	MinPopulation         float64 `yaml:"min_population"`
}

// TransportationConfig holds congestion coefficients.
type TransportationConfig struct {
	DensityNorm    float64 `yaml:"density_norm"` // residents per km² at full demand
	NeighborWeight float64 `yaml:"neighbor_weight"`
	RoadCapacity   float64 `yaml:"road_capacity"`
	Smoothing      float64 `yaml:"smoothing"`
	TransitRelief  float64 `yaml:"transit_relief"`
}

// SafetyConfig holds safety score coefficients.
type SafetyConfig struct {
	Base              float64 `yaml:"base"`
	EmploymentWeight  float64 `yaml:"employment_weight"`
	TransitWeight     float64 `yaml:"transit_weight"`
	GreenWeight       float64 `yaml:"green_weight"`
	DensityPenalty    float64 `yaml:"density_penalty"`
	CongestionPenalty float64 `yaml:"congestion_penalty"`
	VacancyPenalty    float64 `yaml:"vacancy_penalty"`
	NeighborWeight    float64 `yaml:"neighbor_weight"`
	Smoothing         float64 `yaml:"smoothing"`
	DensityNorm       float64 `yaml:"density_norm"`
	WorkingAgeShare   float64 `yaml:"working_age_share"`
}

// CommercialConfig holds commercial vitality coefficients.
type CommercialConfig struct {
	DemandNorm     float64 `yaml:"demand_norm"` // population at full demand
	NeighborWeight float64 `yaml:"neighbor_weight"`
	Smoothing      float64 `yaml:"smoothing"`
}

// EVConfig holds charging infrastructure effects.
type EVConfig struct {
	AQIPerCharger        float64 `yaml:"aqi_per_charger_density"`
	MaxAQIGain           float64 `yaml:"max_aqi_gain"`
	RentPremium          float64 `yaml:"rent_premium_per_charger_density"`
	MaxRentPremium       float64 `yaml:"max_rent_premium"`
	JobsPerKW            float64 `yaml:"jobs_per_kw"`
	TransitBoost         float64 `yaml:"transit_boost"`
	CohesionBoost        float64 `yaml:"cohesion_boost"`
	AttractionPerDensity float64 `yaml:"attraction_per_density"`
	MaxAttraction        float64 `yaml:"max_attraction"`
}

// FacilityConfig holds effects of population-scaled facilities such as
// schools and clinics.
type FacilityConfig struct {
	ResidentsPerFacility float64 `yaml:"residents_per_facility"`
	RentPremium          float64 `yaml:"rent_premium"` // per facility
	MaxRentPremium       float64 `yaml:"max_rent_premium"`
	JobsPerFacility      float64 `yaml:"jobs_per_facility"`
	CohesionBoost        float64 `yaml:"cohesion_boost"`
	SafetyBoost          float64 `yaml:"safety_boost"`
	Attraction           float64 `yaml:"attraction"` // population fraction per facility
	MaxAttraction        float64 `yaml:"max_attraction"`
}

// SpatialConfig holds spillover coefficients.
type SpatialConfig struct {
	SpilloverFraction  float64 `yaml:"spillover_fraction"`
	RentFraction       float64 `yaml:"rent_fraction"`
	VitalityThreshold  float64 `yaml:"vitality_threshold"`
	AttractionFraction float64 `yaml:"attraction_fraction"`
	CohesionThreshold  float64 `yaml:"cohesion_threshold"` // cohesion above this lifts weaker neighbors
	CohesionFraction   float64 `yaml:"cohesion_fraction"`
	CongestionGap      float64 `yaml:"congestion_gap"` // minimum gap before traffic spills over
	CongestionFraction float64 `yaml:"congestion_fraction"`
}

// PolicyConfig holds the named policy flags and their parameters. A
// disabled flag has no effect at all.
type PolicyConfig struct {
	RentControl       bool `yaml:"rent_control"`
	TransitInvestment bool `yaml:"transit_investment"`
	EVSubsidy         bool `yaml:"ev_subsidy"`
	ProgressiveTax    bool `yaml:"progressive_tax"`
	GreenSpaceMandate bool `yaml:"green_space_mandate"`

	RentControlCap          float64 `yaml:"rent_control_cap"`
	RentControlRiskRelief   float64 `yaml:"rent_control_risk_relief"`
	TransitBoost            float64 `yaml:"transit_boost"`
	TransitCongestionRelief float64 `yaml:"transit_congestion_relief"`
	SubsidyRate             float64 `yaml:"subsidy_rate"`
	SubsidyCoverage         string  `yaml:"subsidy_coverage"` // chargers | all
	TaxThreshold            float64 `yaml:"tax_threshold"`
	TaxRentReduction        float64 `yaml:"tax_rent_reduction"`
	TaxRiskIncrease         float64 `yaml:"tax_risk_increase"`
	GreenTarget             float64 `yaml:"green_target"`
	GreenRate               float64 `yaml:"green_rate"`
	GreenAQIGain            float64 `yaml:"green_aqi_gain"`
	GreenSafetyGain         float64 `yaml:"green_safety_gain"`

	// Fractional population inflow per timestep into cells a policy improves.
	EVPopulationBonus      float64 `yaml:"ev_population_bonus"`
	TransitPopulationBonus float64 `yaml:"transit_population_bonus"`
	GreenPopulationBonus   float64 `yaml:"green_population_bonus"`
}

// Flags returns the policy flags by name.
func (p PolicyConfig) Flags() map[string]bool {
	return map[string]bool{
		"rent_control":        p.RentControl,
		"transit_investment":  p.TransitInvestment,
		"ev_subsidy":          p.EVSubsidy,
		"progressive_tax":     p.ProgressiveTax,
		"green_space_mandate": p.GreenSpaceMandate,
	}
}

// AnyEnabled reports whether at least one policy flag is set.
func (p PolicyConfig) AnyEnabled() bool {
	for _, on := range p.Flags() {
		if on {
			return true
		}
	}
	return false
}

// SetFlag enables or disables a policy by name.
func (p *PolicyConfig) SetFlag(name string, on bool) error {
	switch name {
	case "rent_control":
		p.RentControl = on
	case "transit_investment":
		p.TransitInvestment = on
	case "ev_subsidy":
		p.EVSubsidy = on
	case "progressive_tax":
		p.ProgressiveTax = on
	case "green_space_mandate":
		p.GreenSpaceMandate = on
	default:
		return fmt.Errorf("%w: unknown policy %q", urban.ErrConfiguration, name)
	}
	return nil
}

// DemographicsConfig holds income segment parameters.
type DemographicsConfig struct {
	Segments                []SegmentConfig `yaml:"segments"`
	GentrificationBaseline  float64         `yaml:"gentrification_baseline"` // high-income share treated as neutral
	AttractionSegment       string          `yaml:"attraction_segment"`
	OutmigrationSensitivity float64         `yaml:"outmigration_sensitivity"`
}

// SegmentConfig describes one income segment.
type SegmentConfig struct {
	Name                  string            `yaml:"name"`
	Share                 float64           `yaml:"share"` // initial and target share
	Income                float64           `yaml:"income"`
	RentToIncome          float64           `yaml:"rent_to_income"` // affordability ceiling as a fraction of income
	DisplacementThreshold float64           `yaml:"displacement_threshold"`
	MaxOutmigration       float64           `yaml:"max_outmigration"`
	Attraction            *AttractionConfig `yaml:"attraction,omitempty"`
}

// Ceiling returns the segment's affordable rent.
func (s SegmentConfig) Ceiling() float64 {
	return s.Income * s.RentToIncome
}

// AttractionConfig is the trigger for inflow of an attraction segment.
type AttractionConfig struct {
	Rent      float64 `yaml:"rent"`
	Risk      float64 `yaml:"risk"`
	Vitality  float64 `yaml:"vitality"`
	MaxInflow float64 `yaml:"max_inflow"`
}

// CityProfile declares how a city's cells are initialized.
type CityProfile struct {
	DisplayName string                 `yaml:"display_name"`
	InitMode    string                 `yaml:"init_mode"` // uniform | noise
	GridRadius  int                    `yaml:"grid_radius,omitempty"`
	Initial     map[string]urban.Range `yaml:"initial"`
}

// RequiredInitialMetrics must be declared by every city profile.
var RequiredInitialMetrics = []string{
	urban.Population,
	urban.AvgRent,
	urban.HousingUnits,
	urban.Employment,
	urban.TrafficCongestion,
	urban.TransitAccessibility,
	urban.SafetyScore,
	urban.GreenSpaceRatio,
	urban.AirQualityIndex,
	urban.CommercialVitality,
	urban.SocialCohesion,
	urban.ChargersCount,
	urban.EVCapacityKW,
}

// CityNames returns the configured city keys in sorted order.
func (c *Config) CityNames() []string {
	return slices.Sorted(maps.Keys(c.Cities))
}

// City returns a city profile by key.
func (c *Config) City(name string) (CityProfile, error) {
	p, ok := c.Cities[name]
	if !ok {
		return CityProfile{}, fmt.Errorf("%w: unknown city %q", urban.ErrConfiguration, name)
	}
	return p, nil
}

// Bounds returns the range invariants every cell must satisfy.
func (c *Config) Bounds() urban.Bounds {
	return urban.StandardBounds(c.Housing.RentRange(), c.Engine.AirQuality)
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load reads configuration from a YAML file layered over the embedded
// defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		base := cfg.Clone().Cities
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := mergeCities(data, base, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mergeCities re-decodes each city the file names over its default profile.
// yaml replaces map values whole, which would drop every initial range the
// file leaves out. A metric the file does name replaces that metric's range.
func mergeCities(data []byte, base map[string]CityProfile, cfg *Config) error {
	var overlay struct {
		Cities map[string]yaml.Node `yaml:"cities"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	for name, node := range overlay.Cities {
		p, ok := base[name]
		if !ok {
			continue
		}
		if err := node.Decode(&p); err != nil {
			return fmt.Errorf("parsing city %s: %w", name, err)
		}
		cfg.Cities[name] = p
	}
	return nil
}

// Clone returns a deep copy, so a run can override fields without touching
// the shared configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Engine.Modules = slices.Clone(c.Engine.Modules)
	out.Demographics.Segments = slices.Clone(c.Demographics.Segments)
	for i, s := range out.Demographics.Segments {
		if s.Attraction != nil {
			a := *s.Attraction
			out.Demographics.Segments[i].Attraction = &a
		}
	}
	out.Cities = make(map[string]CityProfile, len(c.Cities))
	for k, p := range c.Cities {
		p.Initial = maps.Clone(p.Initial)
		out.Cities[k] = p
	}
	return &out
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteYAML writes the effective configuration to a file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Module names accepted in engine.modules.
const (
	ModuleEV             = "ev"
	ModuleEducation      = "education"
	ModuleHealthcare     = "healthcare"
	ModulePopulation     = "population_dynamics"
	ModuleTransportation = "transportation"
	ModuleHousing        = "housing_market"
	ModulePolicy         = "policy"
	ModuleDemographics   = "demographics"
	ModuleCommercial     = "commercial"
	ModuleSafety         = "safety"
	ModuleSpatial        = "spatial_effects"
)

// ModuleNames lists every module in default priority order.
var ModuleNames = []string{
	ModuleEV,
	ModuleEducation,
	ModuleHealthcare,
	ModulePopulation,
	ModuleTransportation,
	ModuleHousing,
	ModulePolicy,
	ModuleDemographics,
	ModuleCommercial,
	ModuleSafety,
	ModuleSpatial,
}

// EnabledModules returns the configured module list, or every module when
// none is configured.
func (e EngineConfig) EnabledModules() []string {
	if len(e.Modules) == 0 {
		return slices.Clone(ModuleNames)
	}
	return slices.Clone(e.Modules)
}
