// Package world provides the hex grid, cell geometry, and spatial adjacency
// the simulation runs on. Uses axial coordinates (q, r) for the hex grid.
package world

import (
	"fmt"
	"math"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// String returns the grid id used for this coordinate.
func (h HexCoord) String() string {
	return fmt.Sprintf("hex_%d_%d", h.Q, h.R)
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Center returns the planar center of the hex for the given circumradius
// (pointy-top layout, metres).
func (h HexCoord) Center(size float64) Point2D {
	x := size * math.Sqrt(3) * (float64(h.Q) + float64(h.R)/2)
	y := size * 1.5 * float64(h.R)
	return Point2D{X: x, Y: y}
}

// Polygon returns the six corners of the hex, counterclockwise.
func (h HexCoord) Polygon(size float64) Polygon {
	c := h.Center(size)
	pts := make([]Point2D, 6)
	for i := 0; i < 6; i++ {
		angle := math.Pi / 180 * (60*float64(i) - 30)
		pts[i] = Point2D{X: c.X + size*math.Cos(angle), Y: c.Y + size*math.Sin(angle)}
	}
	return NewPolygon(pts...)
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	return max(dq, dr, ds)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
