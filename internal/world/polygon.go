package world

import (
	"fmt"
	"math"
	"strings"
)

// Point2D is a planar point in metres.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point2D) Distance(q Point2D) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Polygon is a closed polygon defined by its vertices in order.
type Polygon struct {
	Vertices []Point2D `json:"vertices"`
}

// NewPolygon creates a polygon from a list of vertices.
func NewPolygon(pts ...Point2D) Polygon {
	return Polygon{Vertices: pts}
}

// IsEmpty returns true if the polygon has fewer than 3 vertices.
func (p Polygon) IsEmpty() bool {
	return len(p.Vertices) < 3
}

// SignedArea returns the signed area using the shoelace formula.
// Positive for counterclockwise winding, negative for clockwise.
func (p Polygon) SignedArea() float64 {
	n := len(p.Vertices)
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += p.Vertices[i].X * p.Vertices[j].Y
		area -= p.Vertices[j].X * p.Vertices[i].Y
	}
	return area / 2
}

// Area returns the unsigned area of the polygon in square metres.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// AreaSqKm returns the unsigned area in square kilometres.
func (p Polygon) AreaSqKm() float64 {
	return p.Area() / 1e6
}

// Centroid returns the centroid of the polygon.
func (p Polygon) Centroid() Point2D {
	n := len(p.Vertices)
	if n == 0 {
		return Point2D{}
	}
	a := p.SignedArea()
	if n < 3 || math.Abs(a) < 1e-12 {
		// Degenerate: return average.
		var sx, sy float64
		for _, v := range p.Vertices {
			sx += v.X
			sy += v.Y
		}
		return Point2D{X: sx / float64(n), Y: sy / float64(n)}
	}
	cx, cy := 0.0, 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := p.Vertices[i].X*p.Vertices[j].Y - p.Vertices[j].X*p.Vertices[i].Y
		cx += (p.Vertices[i].X + p.Vertices[j].X) * cross
		cy += (p.Vertices[i].Y + p.Vertices[j].Y) * cross
	}
	f := 1.0 / (6.0 * a)
	return Point2D{X: cx * f, Y: cy * f}
}

// BoundingBox returns the axis-aligned bounding box as (min, max).
func (p Polygon) BoundingBox() (Point2D, Point2D) {
	if len(p.Vertices) == 0 {
		return Point2D{}, Point2D{}
	}
	minP := p.Vertices[0]
	maxP := p.Vertices[0]
	for _, v := range p.Vertices[1:] {
		minP.X = math.Min(minP.X, v.X)
		minP.Y = math.Min(minP.Y, v.Y)
		maxP.X = math.Max(maxP.X, v.X)
		maxP.Y = math.Max(maxP.Y, v.Y)
	}
	return minP, maxP
}

// SharesEdge reports whether p and q have at least two vertices in common
// within tolerance eps, i.e. they touch along an edge rather than a corner.
func (p Polygon) SharesEdge(q Polygon, eps float64) bool {
	pMin, pMax := p.BoundingBox()
	qMin, qMax := q.BoundingBox()
	if pMax.X+eps < qMin.X || qMax.X+eps < pMin.X || pMax.Y+eps < qMin.Y || qMax.Y+eps < pMin.Y {
		return false
	}
	shared := 0
	for _, a := range p.Vertices {
		for _, b := range q.Vertices {
			if a.Distance(b) <= eps {
				shared++
				break
			}
		}
		if shared >= 2 {
			return true
		}
	}
	return false
}

// WKT renders the polygon as a closed well-known-text POLYGON.
func (p Polygon) WKT() string {
	if p.IsEmpty() {
		return "POLYGON EMPTY"
	}
	var b strings.Builder
	b.WriteString("POLYGON ((")
	n := len(p.Vertices)
	for i := 0; i <= n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		v := p.Vertices[i%n]
		fmt.Fprintf(&b, "%.3f %.3f", v.X, v.Y)
	}
	b.WriteString("))")
	return b.String()
}
