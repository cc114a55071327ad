package world

import (
	"fmt"
	"sort"
)

// GridCell is one spatial partition handed to the engine: its id, position,
// polygon, and area.
type GridCell struct {
	ID       string   `json:"grid_id"`
	Coord    HexCoord `json:"coord"`
	Polygon  Polygon  `json:"polygon"`
	AreaSqKm float64  `json:"area_sqkm"`
}

// Grid holds the complete hex grid for one city.
type Grid struct {
	Radius   int        `json:"radius"`
	CellSize float64    `json:"cell_size_m"` // hex circumradius in metres
	Cells    []GridCell `json:"cells"`

	index map[string]int
}

// NewHexGrid creates a hexagonal grid of the given radius. A hex grid of
// radius R contains hexes where max(|q|, |r|, |s|) <= R. Cells are ordered
// by (q, r) so the same radius always yields the same sequence.
func NewHexGrid(radius int, cellSize float64) (*Grid, error) {
	if radius < 0 {
		return nil, fmt.Errorf("grid radius must be >= 0, got %d", radius)
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("cell size must be > 0, got %g", cellSize)
	}

	g := &Grid{
		Radius:   radius,
		CellSize: cellSize,
		index:    make(map[string]int),
	}
	for q := -radius; q <= radius; q++ {
		for r := -radius; r <= radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !g.InBounds(coord) {
				continue
			}
			poly := coord.Polygon(cellSize)
			g.index[coord.String()] = len(g.Cells)
			g.Cells = append(g.Cells, GridCell{
				ID:       coord.String(),
				Coord:    coord,
				Polygon:  poly,
				AreaSqKm: poly.AreaSqKm(),
			})
		}
	}
	return g, nil
}

// Get returns the cell with the given id, or false if absent.
func (g *Grid) Get(id string) (GridCell, bool) {
	i, ok := g.index[id]
	if !ok {
		return GridCell{}, false
	}
	return g.Cells[i], true
}

// InBounds returns true if the coordinate is within the grid radius.
func (g *Grid) InBounds(coord HexCoord) bool {
	return max(abs(coord.Q), abs(coord.R), abs(coord.S())) <= g.Radius
}

// CellCount returns the total number of cells in the grid.
func (g *Grid) CellCount() int {
	return len(g.Cells)
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(radius=%d, cells=%d, size=%.0fm)", g.Radius, g.CellCount(), g.CellSize)
}

// Adjacency maps a grid id to the sorted ids of the cells sharing an edge
// with it. It is built once and never mutated afterwards.
type Adjacency map[string][]string

// Neighbors returns the neighbor ids of a cell.
func (a Adjacency) Neighbors(id string) []string {
	return a[id]
}

// BuildAdjacency derives the neighbor graph from polygon geometry: two cells
// are neighbors when their polygons share an edge. It works for any polygon
// tiling, not only hexes.
func BuildAdjacency(cells []GridCell) Adjacency {
	adj := make(Adjacency, len(cells))
	for _, c := range cells {
		adj[c.ID] = nil
	}
	for i := range cells {
		eps := edgeTolerance(cells[i].Polygon)
		for j := i + 1; j < len(cells); j++ {
			if cells[i].Polygon.SharesEdge(cells[j].Polygon, eps) {
				adj[cells[i].ID] = append(adj[cells[i].ID], cells[j].ID)
				adj[cells[j].ID] = append(adj[cells[j].ID], cells[i].ID)
			}
		}
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// edgeTolerance scales the vertex-matching tolerance with polygon size.
func edgeTolerance(p Polygon) float64 {
	lo, hi := p.BoundingBox()
	return lo.Distance(hi) * 1e-6
}
