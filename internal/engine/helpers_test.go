package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

func newTestCell(id string, m urban.Metrics) *urban.Cell {
	return urban.NewCell(id, world.HexCoord{}.Polygon(500), 0.65, m)
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	return cfg
}

// funcModule is a Module built from a function.
type funcModule struct {
	name     string
	priority int
	fn       func(c *urban.Cell, nb Neighborhood) error
}

func (m funcModule) Name() string  { return m.name }
func (m funcModule) Priority() int { return m.priority }
func (m funcModule) Apply(c *urban.Cell, nb Neighborhood) error {
	return m.fn(c, nb)
}

// recordingSink keeps every checkpoint it receives.
type recordingSink struct {
	mu          sync.Mutex
	checkpoints []Checkpoint
}

func (s *recordingSink) WriteCheckpoint(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (s *recordingSink) all() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Checkpoint(nil), s.checkpoints...)
}

// cityCells builds a radius-2 hex city with varied but fixed metrics.
func cityCells(t *testing.T) ([]*urban.Cell, world.Adjacency) {
	t.Helper()
	g, err := world.NewHexGrid(2, 500)
	if err != nil {
		t.Fatal(err)
	}
	cells := make([]*urban.Cell, 0, g.CellCount())
	for i, gc := range g.Cells {
		f := float64(i%7) / 6
		cells = append(cells, urban.NewCell(gc.ID, gc.Polygon, gc.AreaSqKm, urban.Metrics{
			urban.Population:           900 + 600*f,
			urban.AvgRent:              800 + 900*f,
			urban.HousingUnits:         500 + 200*(1-f),
			urban.Employment:           400 + 300*f,
			urban.TrafficCongestion:    0.3 + 0.3*f,
			urban.TransitAccessibility: 0.5 + 0.3*f,
			urban.SafetyScore:          0.6 + 0.2*(1-f),
			urban.GreenSpaceRatio:      0.2 + 0.1*f,
			urban.AirQualityIndex:      60 + 10*f,
			urban.CommercialVitality:   0.5 + 0.4*f,
			urban.SocialCohesion:       0.5,
			urban.ChargersCount:        float64(i % 3),
			urban.EVCapacityKW:         22 * float64(i%3),
		}))
	}
	return cells, world.BuildAdjacency(g.Cells)
}
