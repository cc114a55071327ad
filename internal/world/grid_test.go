package world

import (
	"math"
	"testing"
)

func TestNewHexGridCellCount(t *testing.T) {
	for radius, want := range map[int]int{0: 1, 1: 7, 2: 19, 3: 37} {
		g, err := NewHexGrid(radius, 500)
		if err != nil {
			t.Fatalf("NewHexGrid(%d): %v", radius, err)
		}
		if g.CellCount() != want {
			t.Errorf("radius %d: cell count = %d, want %d", radius, g.CellCount(), want)
		}
	}
}

func TestNewHexGridRejectsBadInput(t *testing.T) {
	if _, err := NewHexGrid(-1, 500); err == nil {
		t.Error("expected error for negative radius")
	}
	if _, err := NewHexGrid(2, 0); err == nil {
		t.Error("expected error for zero cell size")
	}
}

func TestHexPolygonArea(t *testing.T) {
	size := 500.0
	poly := HexCoord{Q: 2, R: -1}.Polygon(size)
	want := 3 * math.Sqrt(3) / 2 * size * size
	if math.Abs(poly.Area()-want) > 1e-6 {
		t.Errorf("area = %v, want %v", poly.Area(), want)
	}
	if !poly.IsEmpty() && poly.SignedArea() <= 0 {
		t.Error("expected counterclockwise winding")
	}
}

func TestBuildAdjacencyMatchesHexNeighbors(t *testing.T) {
	g, err := NewHexGrid(2, 500)
	if err != nil {
		t.Fatal(err)
	}
	adj := BuildAdjacency(g.Cells)

	for _, c := range g.Cells {
		want := 0
		for _, n := range c.Coord.Neighbors() {
			if g.InBounds(n) {
				want++
			}
		}
		got := adj.Neighbors(c.ID)
		if len(got) != want {
			t.Errorf("%s: %d neighbors, want %d", c.ID, len(got), want)
		}
		for _, id := range got {
			other, ok := g.Get(id)
			if !ok {
				t.Fatalf("unknown neighbor id %s", id)
			}
			if Distance(c.Coord, other.Coord) != 1 {
				t.Errorf("%s and %s are not hex-adjacent", c.ID, id)
			}
		}
	}

	if n := len(adj.Neighbors("hex_0_0")); n != 6 {
		t.Errorf("center cell has %d neighbors, want 6", n)
	}
}

func TestBuildAdjacencyIsSymmetric(t *testing.T) {
	g, _ := NewHexGrid(3, 250)
	adj := BuildAdjacency(g.Cells)
	for id, ns := range adj {
		for _, n := range ns {
			found := false
			for _, back := range adj[n] {
				if back == id {
					found = true
				}
			}
			if !found {
				t.Errorf("%s -> %s has no reverse edge", id, n)
			}
		}
	}
}

func TestSharesEdgeIgnoresCornerContact(t *testing.T) {
	a := NewPolygon(Point2D{0, 0}, Point2D{1, 0}, Point2D{1, 1}, Point2D{0, 1})
	b := NewPolygon(Point2D{1, 1}, Point2D{2, 1}, Point2D{2, 2}, Point2D{1, 2})
	c := NewPolygon(Point2D{1, 0}, Point2D{2, 0}, Point2D{2, 1}, Point2D{1, 1})
	if a.SharesEdge(b, 1e-9) {
		t.Error("corner-touching squares should not be neighbors")
	}
	if !a.SharesEdge(c, 1e-9) {
		t.Error("edge-sharing squares should be neighbors")
	}
}

func TestPolygonWKTIsClosed(t *testing.T) {
	p := NewPolygon(Point2D{0, 0}, Point2D{1, 0}, Point2D{0, 1})
	want := "POLYGON ((0.000 0.000, 1.000 0.000, 0.000 1.000, 0.000 0.000))"
	if got := p.WKT(); got != want {
		t.Errorf("WKT = %q, want %q", got, want)
	}
}

func TestNoiseFieldDeterministicAndBounded(t *testing.T) {
	a := NewNoiseField(7, DefaultNoiseConfig())
	b := NewNoiseField(7, DefaultNoiseConfig())
	for i := 0; i < 50; i++ {
		p := Point2D{X: float64(i) * 137.5, Y: float64(i) * -91.25}
		va, vb := a.At(p), b.At(p)
		if va != vb {
			t.Fatalf("same seed produced %v and %v", va, vb)
		}
		if va < 0 || va >= 1 {
			t.Fatalf("value %v outside [0,1)", va)
		}
	}
}
