package engine

import (
	"math"
	"testing"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

func TestNewModuleSetOrdersByPriority(t *testing.T) {
	cfg := defaultConfig(t)
	set, err := NewModuleSet(cfg)
	if err != nil {
		t.Fatalf("NewModuleSet() error = %v", err)
	}
	names := set.Names()
	if len(names) != len(config.ModuleNames) {
		t.Fatalf("got %d modules, want %d", len(names), len(config.ModuleNames))
	}
	for i := 1; i < len(set); i++ {
		if set[i-1].Priority() > set[i].Priority() {
			t.Errorf("%s (%d) runs before %s (%d)", set[i-1].Name(), set[i-1].Priority(), set[i].Name(), set[i].Priority())
		}
	}
	if names[len(names)-1] != config.ModuleSpatial {
		t.Errorf("last module = %s, want spatial effects", names[len(names)-1])
	}
	if got := set.Without(config.ModulePolicy); len(got) != len(set)-1 {
		t.Errorf("Without() left %d modules", len(got))
	}
}

func TestNewModuleSetRejectsUnknownAndDuplicate(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Engine.Modules = []string{"housing_market", "weather"}
	if _, err := NewModuleSet(cfg); err == nil {
		t.Error("expected error for unknown module")
	}
	cfg.Engine.Modules = []string{"housing_market", "housing_market"}
	if _, err := NewModuleSet(cfg); err == nil {
		t.Error("expected error for duplicate module")
	}
}

func TestDemographicsConservesPopulation(t *testing.T) {
	cfg := defaultConfig(t)
	m, err := NewDemographics(cfg.Demographics)
	if err != nil {
		t.Fatal(err)
	}
	c := newTestCell("a", urban.Metrics{
		urban.Population:         1000,
		urban.AvgRent:            2800,
		urban.DisplacementRisk:   0.6,
		urban.CommercialVitality: 0.8,
	})
	for i := 0; i < 20; i++ {
		if err := m.Apply(c, Isolated); err != nil {
			t.Fatal(err)
		}
		if diff := math.Abs(c.SegmentTotal() - c.Get(urban.Population)); diff > 1e-9 {
			t.Fatalf("step %d: segments off by %v", i, diff)
		}
	}

	low := c.Get(urban.SegmentMetric("low"))
	high := c.Get(urban.SegmentMetric("high"))
	if low >= 300 {
		t.Errorf("low-income population %v did not shrink", low)
	}
	if high <= 300 {
		t.Errorf("high-income population %v did not grow", high)
	}
	if g := c.Get(urban.GentrificationIndex); g <= 0 || g > 1 {
		t.Errorf("gentrification index = %v, want (0, 1]", g)
	}
	if d := c.Get(urban.IncomeDiversityIndex); d >= 1 || d < 0 {
		t.Errorf("diversity index = %v, want [0, 1)", d)
	}
}

func TestDemographicsOutflowAndInflowRates(t *testing.T) {
	cfg := defaultConfig(t)
	m, err := NewDemographics(cfg.Demographics)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name              string
		rent, risk        float64
		low, middle, high float64
	}{
		// Low ceiling is 450: overshoot 550/450 at sensitivity 0.15 moves 18.3%.
		{"low income priced out", 1000, 0.5, 300 * (1 - 550.0/450*0.15), 400, 300},
		// Both outflow caps bind; high income grows by the full inflow cap.
		{"caps bind", 3000, 1.0, 300 * 0.80, 400 * 0.90, 300 * 1.05},
		{"risk below thresholds", 3000, 0.3, 300, 400, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCell("a", urban.Metrics{
				urban.Population:       1000,
				urban.AvgRent:          tt.rent,
				urban.DisplacementRisk: tt.risk,
			})
			if err := m.Apply(c, Isolated); err != nil {
				t.Fatal(err)
			}
			for seg, want := range map[string]float64{"low": tt.low, "middle": tt.middle, "high": tt.high} {
				if got := c.Get(urban.SegmentMetric(seg)); math.Abs(got-want) > 1e-6 {
					t.Errorf("%s = %v, want %v", seg, got, want)
				}
			}
			if got, want := c.Get(urban.Population), tt.low+tt.middle+tt.high; math.Abs(got-want) > 1e-6 {
				t.Errorf("population = %v, want %v", got, want)
			}
		})
	}
}

func TestDemographicsBalancedCellIsFullyDiverse(t *testing.T) {
	cfg := defaultConfig(t)
	m, _ := NewDemographics(cfg.Demographics)
	c := newTestCell("a", urban.Metrics{
		urban.Population:         1000,
		urban.AvgRent:            400,
		urban.DisplacementRisk:   0,
		urban.CommercialVitality: 0.2,
	})
	if err := m.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(urban.IncomeDiversityIndex); math.Abs(got-1) > 1e-9 {
		t.Errorf("diversity = %v, want 1", got)
	}
	if got := c.Get(urban.GentrificationIndex); got > 1e-9 {
		t.Errorf("gentrification = %v, want 0", got)
	}
	if got := c.Get(urban.Population); math.Abs(got-1000) > 1e-9 {
		t.Errorf("population = %v, want 1000", got)
	}
}

func TestPolicyDisabledWritesNothing(t *testing.T) {
	cfg := defaultConfig(t)
	p := NewPolicy(cfg.Policy)
	c := newTestCell("a", urban.Metrics{urban.AvgRent: 2000, urban.ChargersCount: 2, urban.GreenSpaceRatio: 0.1})
	before := c.Metrics()
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	// No write means the snapshot for the same timestep is still valid.
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Errorf("policy with all flags off wrote to the cell: %v", err)
	}
	for k, v := range before {
		if c.Get(k) != v {
			t.Errorf("%s changed from %v to %v", k, v, c.Get(k))
		}
	}
}

func TestPolicyRentControlUsesTimestepBaseline(t *testing.T) {
	cfg := defaultConfig(t).Policy
	cfg.RentControl = true
	cfg.RentControlCap = 0.002
	p := NewPolicy(cfg)

	c := newTestCell("a", urban.Metrics{urban.AvgRent: 1000, urban.DisplacementRisk: 0.3})
	c.BeginTimestep()
	c.Set(urban.AvgRent, 1010)
	if err := p.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(urban.AvgRent); math.Abs(got-1002) > 1e-9 {
		t.Errorf("rent = %v, want 1002", got)
	}
	if got := c.Get(urban.DisplacementRisk); math.Abs(got-(0.3-cfg.RentControlRiskRelief)) > 1e-12 {
		t.Errorf("risk = %v", got)
	}
}

func TestPolicyPopulationBonus(t *testing.T) {
	cfg := defaultConfig(t).Policy
	cfg.TransitInvestment = true
	cfg.EVSubsidy = true
	cfg.GreenSpaceMandate = true
	cfg.SubsidyCoverage = "chargers"
	p := NewPolicy(cfg)

	covered := newTestCell("a", urban.Metrics{urban.Population: 1000, urban.AvgRent: 1000, urban.ChargersCount: 1, urban.GreenSpaceRatio: 0.1})
	bare := newTestCell("b", urban.Metrics{urban.Population: 1000, urban.AvgRent: 1000})
	if err := p.Apply(covered, Isolated); err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(bare, Isolated); err != nil {
		t.Fatal(err)
	}

	want := 1000 * (1 + cfg.TransitPopulationBonus + cfg.EVPopulationBonus + cfg.GreenPopulationBonus)
	if got := covered.Get(urban.Population); math.Abs(got-want) > 1e-9 {
		t.Errorf("covered population = %v, want %v", got, want)
	}
	// Without chargers the subsidy bonus is withheld.
	want = 1000 * (1 + cfg.TransitPopulationBonus + cfg.GreenPopulationBonus)
	if got := bare.Get(urban.Population); math.Abs(got-want) > 1e-9 {
		t.Errorf("bare population = %v, want %v", got, want)
	}
}

func TestPolicySubsidyCoverage(t *testing.T) {
	cfg := defaultConfig(t).Policy
	cfg.EVSubsidy = true
	cfg.SubsidyRate = 0.1
	cfg.SubsidyCoverage = "chargers"
	p := NewPolicy(cfg)

	withChargers := newTestCell("a", urban.Metrics{urban.AvgRent: 1000, urban.ChargersCount: 1})
	without := newTestCell("b", urban.Metrics{urban.AvgRent: 1000})
	_ = p.Apply(withChargers, Isolated)
	_ = p.Apply(without, Isolated)
	if got := withChargers.Get(urban.AvgRent); math.Abs(got-900) > 1e-9 {
		t.Errorf("covered rent = %v, want 900", got)
	}
	if got := without.Get(urban.AvgRent); got != 1000 {
		t.Errorf("uncovered rent = %v, want 1000", got)
	}
}

func TestEVInfrastructureNoChargersIsNoop(t *testing.T) {
	cfg := defaultConfig(t)
	m := NewEVInfrastructure(cfg.Modules.EV)
	c := newTestCell("a", urban.Metrics{urban.Population: 1000, urban.AvgRent: 900, urban.ChargersCount: 0})
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Errorf("EV module wrote to a cell without chargers: %v", err)
	}
}

func TestEVInfrastructureEffects(t *testing.T) {
	cfg := defaultConfig(t)
	m := NewEVInfrastructure(cfg.Modules.EV)
	c := newTestCell("a", urban.Metrics{
		urban.Population:      1000,
		urban.AvgRent:         900,
		urban.ChargersCount:   2,
		urban.EVCapacityKW:    44,
		urban.AirQualityIndex: 60,
		urban.Employment:      400,
	})
	if err := m.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(urban.ChargerDensity); math.Abs(got-2/0.65) > 1e-9 {
		t.Errorf("charger density = %v", got)
	}
	if c.Get(urban.AirQualityIndex) <= 60 {
		t.Error("air quality did not improve")
	}
	if c.Get(urban.AvgRent) <= 900 || c.Get(urban.AvgRent) > 900*(1+cfg.Modules.EV.MaxRentPremium)+1e-9 {
		t.Errorf("rent = %v outside premium bounds", c.Get(urban.AvgRent))
	}
	if c.Get(urban.Employment) <= 400 {
		t.Error("employment did not grow")
	}
}

func TestFacilityScalesWithPopulation(t *testing.T) {
	cfg := defaultConfig(t)
	edu := NewEducation(cfg.Modules.Education)
	if got := edu.Facilities(5000); math.Abs(got-5000/cfg.Modules.Education.ResidentsPerFacility) > 1e-12 {
		t.Errorf("facilities = %v", got)
	}
	c := newTestCell("a", urban.Metrics{urban.Population: 0, urban.AvgRent: 900})
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Fatal(err)
	}
	if err := edu.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Snapshot("r", 1); err != nil {
		t.Error("facility module wrote to an empty cell")
	}

	health := NewHealthcare(cfg.Modules.Healthcare)
	c = newTestCell("b", urban.Metrics{urban.Population: 4000, urban.SafetyScore: 0.5, urban.AvgRent: 900})
	if err := health.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	if c.Get(urban.SafetyScore) <= 0.5 {
		t.Error("healthcare did not raise safety")
	}
	if health.Name() == edu.Name() || health.Priority() == edu.Priority() {
		t.Error("facility variants share identity")
	}
}

func TestTransportationCongestionRisesWithDensity(t *testing.T) {
	cfg := defaultConfig(t)
	m := NewTransportation(cfg.Modules.Transportation)
	sparse := newTestCell("a", urban.Metrics{urban.PopulationDensity: 500, urban.TrafficCongestion: 0.3})
	dense := newTestCell("b", urban.Metrics{urban.PopulationDensity: 5000, urban.TrafficCongestion: 0.3})
	_ = m.Apply(sparse, Isolated)
	_ = m.Apply(dense, Isolated)
	if dense.Get(urban.TrafficCongestion) <= sparse.Get(urban.TrafficCongestion) {
		t.Errorf("dense congestion %v <= sparse %v", dense.Get(urban.TrafficCongestion), sparse.Get(urban.TrafficCongestion))
	}
}

func TestSafetyRecomputesUnemployment(t *testing.T) {
	cfg := defaultConfig(t)
	m := NewSafety(cfg.Modules.Safety)
	c := newTestCell("a", urban.Metrics{urban.Population: 1000, urban.Employment: 325, urban.SafetyScore: 0.6})
	if err := m.Apply(c, Isolated); err != nil {
		t.Fatal(err)
	}
	want := 1 - 325/(1000*cfg.Modules.Safety.WorkingAgeShare)
	if got := c.Get(urban.UnemploymentRate); math.Abs(got-want) > 1e-12 {
		t.Errorf("unemployment = %v, want %v", got, want)
	}
	if s := c.Get(urban.SafetyScore); s < 0 || s > 1 {
		t.Errorf("safety = %v out of range", s)
	}
}

func TestCommercialStaysInUnitRange(t *testing.T) {
	cfg := defaultConfig(t)
	m := NewCommercial(cfg.Modules.Commercial)
	c := newTestCell("a", urban.Metrics{
		urban.Population:           3000,
		urban.TransitAccessibility: 1,
		urban.SafetyScore:          1,
		urban.CommercialVitality:   0.5,
	})
	nb := StaticNeighborhood(newTestCell("b", urban.Metrics{urban.CommercialVitality: 1}))
	for i := 0; i < 100; i++ {
		_ = m.Apply(c, nb)
	}
	if v := c.Get(urban.CommercialVitality); v < 0.99 || v > 1 {
		t.Errorf("vitality = %v, want close to 1", v)
	}
}
