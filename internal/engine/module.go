package engine

import (
	"fmt"
	"slices"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
)

// Module is one update rule applied to a cell each timestep. Modules keep no
// state between timesteps; everything they need is on the cell, its
// neighbors, or their configuration.
type Module interface {
	Name() string
	Priority() int // ascending execution order within a timestep
	Apply(c *urban.Cell, nb Neighborhood) error
}

// Default execution priorities. Infrastructure effects land first so the
// market modules see them; spatial spillover always runs last.
const (
	PriorityEV             = 10
	PriorityEducation      = 11
	PriorityHealthcare     = 12
	PriorityPopulation     = 20
	PriorityTransportation = 30
	PriorityHousing        = 40
	PriorityPolicy         = 45
	PriorityDemographics   = 50
	PriorityCommercial     = 60
	PrioritySafety         = 70
	PrioritySpatial        = 100
)

// ModuleSet is an ordered list of modules.
type ModuleSet []Module

// Names returns module names in execution order.
func (s ModuleSet) Names() []string {
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.Name()
	}
	return names
}

// Without returns a copy of the set with the named module removed.
func (s ModuleSet) Without(name string) ModuleSet {
	return slices.DeleteFunc(slices.Clone(s), func(m Module) bool { return m.Name() == name })
}

// SortModules orders modules by ascending priority. Ties keep their input
// order.
func SortModules(mods []Module) ModuleSet {
	out := slices.Clone(mods)
	slices.SortStableFunc(out, func(a, b Module) int { return a.Priority() - b.Priority() })
	return out
}

// NewModuleSet builds the enabled modules from configuration, sorted by
// priority.
func NewModuleSet(cfg *config.Config) (ModuleSet, error) {
	var mods []Module
	seen := make(map[string]bool)
	for _, name := range cfg.Engine.EnabledModules() {
		if seen[name] {
			return nil, fmt.Errorf("%w: module %q listed twice", urban.ErrConfiguration, name)
		}
		seen[name] = true

		m, err := newModule(name, cfg)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return SortModules(mods), nil
}

func newModule(name string, cfg *config.Config) (Module, error) {
	switch name {
	case config.ModuleEV:
		return NewEVInfrastructure(cfg.Modules.EV), nil
	case config.ModuleEducation:
		return NewEducation(cfg.Modules.Education), nil
	case config.ModuleHealthcare:
		return NewHealthcare(cfg.Modules.Healthcare), nil
	case config.ModulePopulation:
		return NewPopulationDynamics(cfg.Modules.Population, cfg.Housing.AffordabilityCeiling), nil
	case config.ModuleTransportation:
		return NewTransportation(cfg.Modules.Transportation), nil
	case config.ModuleHousing:
		return NewHousingMarket(cfg.Housing), nil
	case config.ModulePolicy:
		return NewPolicy(cfg.Policy), nil
	case config.ModuleDemographics:
		return NewDemographics(cfg.Demographics)
	case config.ModuleCommercial:
		return NewCommercial(cfg.Modules.Commercial), nil
	case config.ModuleSafety:
		return NewSafety(cfg.Modules.Safety), nil
	case config.ModuleSpatial:
		return NewSpatialEffects(cfg.Modules.Spatial), nil
	default:
		return nil, fmt.Errorf("%w: unknown module %q", urban.ErrConfiguration, name)
	}
}
