package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/urbansim/internal/urban"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	report := Validate(cfg)
	if !report.Valid {
		t.Fatalf("default config invalid: %v", report.Err())
	}
	if got := cfg.CityNames(); strings.Join(got, ",") != "berlin,leipzig,munich" {
		t.Errorf("CityNames() = %v", got)
	}
	if cfg.Housing.RentCap != 0.005 {
		t.Errorf("rent cap = %v, want 0.005", cfg.Housing.RentCap)
	}
	if cfg.Engine.NeighborMode != NeighborBuffered {
		t.Errorf("neighbor mode = %q, want buffered", cfg.Engine.NeighborMode)
	}
}

func TestLoadOverlaysUserFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urbansim.yaml")
	data := []byte(`
engine:
  timesteps: 12
housing:
  rent_cap: 0.01
policy:
  rent_control: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Timesteps != 12 {
		t.Errorf("timesteps = %d, want 12", cfg.Engine.Timesteps)
	}
	if cfg.Housing.RentCap != 0.01 {
		t.Errorf("rent cap = %v, want 0.01", cfg.Housing.RentCap)
	}
	if !cfg.Policy.RentControl {
		t.Error("rent control not enabled")
	}
	// Untouched keys keep their defaults.
	if cfg.Housing.MaxRent != 3000 {
		t.Errorf("max rent = %v, want 3000", cfg.Housing.MaxRent)
	}
	if cfg.Engine.CheckpointEvery != 10 {
		t.Errorf("checkpoint_every = %d, want 10", cfg.Engine.CheckpointEvery)
	}
}

func TestLoadMergesCityProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urbansim.yaml")
	data := []byte(`
cities:
  leipzig:
    initial:
      avg_rent: {min: 700, max: 950}
  dresden:
    display_name: Dresden
    init_mode: uniform
    initial:
      population: {min: 500, max: 900}
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	leipzig := cfg.Cities["leipzig"]
	if got := leipzig.Initial[urban.AvgRent]; got.Min != 700 || got.Max != 950 {
		t.Errorf("avg_rent = %+v, want 700..950", got)
	}
	if leipzig.DisplayName != "Leipzig" || leipzig.InitMode != "uniform" {
		t.Errorf("leipzig lost its defaults: %+v", leipzig)
	}
	if got := leipzig.Initial[urban.Population]; got.Min != 800 || got.Max != 1400 {
		t.Errorf("population = %+v, want default 800..1400", got)
	}
	if err := ValidateCity(cfg, "leipzig").Err(); err != nil {
		t.Errorf("merged leipzig invalid: %v", err)
	}

	// A city absent from the defaults is taken as written.
	if d := cfg.Cities["dresden"]; d.DisplayName != "Dresden" || len(d.Initial) != 1 {
		t.Errorf("dresden = %+v", d)
	}
	// Other defaults are untouched.
	if len(cfg.Cities["berlin"].Initial) != len(leipzig.Initial) {
		t.Errorf("berlin has %d initial metrics", len(cfg.Cities["berlin"].Initial))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, _ := Defaults()
	cfg.Engine.Seed = 7
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Engine.Seed != 7 {
		t.Errorf("seed = %d, want 7", got.Engine.Seed)
	}
}

func TestValidateMissingInitialMetric(t *testing.T) {
	cfg, _ := Defaults()
	delete(cfg.Cities["leipzig"].Initial, urban.AvgRent)

	report := ValidateCity(cfg, "leipzig")
	if report.Valid {
		t.Fatal("expected invalid report")
	}
	if !errors.Is(report.Err(), urban.ErrConfiguration) {
		t.Errorf("Err() = %v, want ErrConfiguration", report.Err())
	}
	if !strings.Contains(report.Err().Error(), "cities.leipzig.initial.avg_rent") {
		t.Errorf("error does not name the metric: %v", report.Err())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"zero rent cap", func(c *Config) { c.Housing.RentCap = 0 }, "housing.rent_cap"},
		{"unknown neighbor mode", func(c *Config) { c.Engine.NeighborMode = "eager" }, "engine.neighbor_mode"},
		{"unknown module", func(c *Config) { c.Engine.Modules = []string{"weather"} }, "engine.modules"},
		{"shares off", func(c *Config) { c.Demographics.Segments[0].Share = 0.5 }, "demographics.segments"},
		{"zero housing units", func(c *Config) {
			c.Cities["berlin"].Initial[urban.HousingUnits] = urban.Range{Min: 0, Max: 10}
		}, "cities.berlin.initial.housing_units"},
		{"inverted range", func(c *Config) {
			c.Cities["munich"].Initial[urban.SafetyScore] = urban.Range{Min: 0.9, Max: 0.1}
		}, "cities.munich.initial.safety_score"},
		{"rent outside invariant", func(c *Config) {
			c.Cities["munich"].Initial[urban.AvgRent] = urban.Range{Min: 100, Max: 1500}
		}, "cities.munich.initial.avg_rent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Defaults()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			report := Validate(cfg)
			if report.Valid {
				t.Fatal("expected invalid report")
			}
			found := false
			for _, r := range report.Errors {
				if r.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("no error at %s; got %v", tt.path, report.Errors)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg, _ := Defaults()
	c := cfg.Clone()
	c.Cities["leipzig"].Initial[urban.AvgRent] = urban.Range{Min: 1, Max: 2}
	c.Demographics.Segments[0].Attraction = &AttractionConfig{}
	c.Demographics.Segments[2].Attraction.MaxInflow = 0.9

	if cfg.Cities["leipzig"].Initial[urban.AvgRent].Min == 1 {
		t.Error("clone shares city initial ranges")
	}
	if cfg.Demographics.Segments[0].Attraction != nil {
		t.Error("clone shares segment slice")
	}
	if cfg.Demographics.Segments[2].Attraction.MaxInflow == 0.9 {
		t.Error("clone shares attraction config")
	}
}

func TestSetFlag(t *testing.T) {
	var p PolicyConfig
	if err := p.SetFlag("ev_subsidy", true); err != nil {
		t.Fatal(err)
	}
	if !p.EVSubsidy || !p.AnyEnabled() {
		t.Error("ev_subsidy not enabled")
	}
	if err := p.SetFlag("free_lunch", true); !errors.Is(err, urban.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestEnabledModulesDefaultsToAll(t *testing.T) {
	var e EngineConfig
	if got := e.EnabledModules(); len(got) != len(ModuleNames) {
		t.Errorf("got %d modules, want %d", len(got), len(ModuleNames))
	}
	e.Modules = []string{ModuleHousing}
	if got := e.EnabledModules(); len(got) != 1 || got[0] != ModuleHousing {
		t.Errorf("EnabledModules() = %v", got)
	}
}
